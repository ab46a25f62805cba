package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// refreshBuffer is how long before expiry a token counts as stale.
const refreshBuffer = 5 * time.Minute

// oauthProvider serves Gmail and Outlook accounts over XOAUTH2.
type oauthProvider struct {
	host     string
	port     int
	provider domain.Provider
	oauth    *oauth2.Config
}

func newGoogleTokenConfig(cfg *GoogleConfig) *oauth2.Config {
	if cfg == nil {
		cfg = &GoogleConfig{}
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://mail.google.com/"},
	}
}

func newMicrosoftTokenConfig(cfg *MicrosoftConfig) *oauth2.Config {
	if cfg == nil {
		cfg = &MicrosoftConfig{TenantID: "common"}
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: microsoft.AzureADEndpoint(tenant),
		Scopes:   []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
	}
}

func (p *oauthProvider) ConnectionParams(account *domain.Account, creds *domain.Credentials) (*out.ConnectionParams, error) {
	if creds.Type != domain.CredentialOAuth2 {
		return nil, fmt.Errorf("provider %s requires oauth2 credentials, got %s", account.Provider, creds.Type)
	}
	return &out.ConnectionParams{
		Host:        p.host,
		Port:        p.port,
		Security:    domain.SecuritySSL,
		AuthMethod:  out.AuthMethodXOAuth2,
		Username:    account.Email,
		AccessToken: creds.AccessToken,
	}, nil
}

func (p *oauthProvider) NeedsRefresh(creds *domain.Credentials) bool {
	return creds.ExpiresWithin(refreshBuffer)
}

// Refresh exchanges the refresh token through the oauth2 token source. The
// incoming refresh token is reused when the server omits a new one.
func (p *oauthProvider) Refresh(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	if creds.Type != domain.CredentialOAuth2 {
		return nil, fmt.Errorf("provider %s: cannot refresh %s credentials", p.provider, creds.Type)
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("provider %s: no refresh token available", p.provider)
	}

	stale := &oauth2.Token{
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force the source to refresh
	}
	token, err := p.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %s token: %w", p.provider, err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}
	return domain.NewOAuth2Credentials(token.AccessToken, refreshToken, token.Expiry), nil
}
