package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

func testRegistry() *Registry {
	return NewRegistry(&RegistryConfig{
		Google:    &GoogleConfig{ClientID: "gid", ClientSecret: "gsecret"},
		Microsoft: &MicrosoftConfig{ClientID: "mid", TenantID: "common"},
	})
}

func TestRegistryConnectionParams(t *testing.T) {
	reg := testRegistry()
	pw := domain.NewPasswordCredentials("user@me.com", "app-pass")
	oa := domain.NewOAuth2Credentials("tok", "ref", time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		account  *domain.Account
		creds    *domain.Credentials
		wantHost string
		wantPort int
		wantAuth out.AuthMethod
		wantErr  bool
	}{
		{
			name:     "icloud fixed endpoint",
			account:  domain.NewAccount("u1", domain.ProviderICloud, "Me", "user@me.com"),
			creds:    pw,
			wantHost: "imap.mail.me.com",
			wantPort: 993,
			wantAuth: out.AuthMethodLogin,
		},
		{
			name:     "gmail fixed endpoint xoauth2",
			account:  domain.NewAccount("u1", domain.ProviderGmail, "G", "user@gmail.com"),
			creds:    oa,
			wantHost: "imap.gmail.com",
			wantPort: 993,
			wantAuth: out.AuthMethodXOAuth2,
		},
		{
			name:     "outlook fixed endpoint xoauth2",
			account:  domain.NewAccount("u1", domain.ProviderOutlook, "O", "user@outlook.com"),
			creds:    oa,
			wantHost: "outlook.office365.com",
			wantPort: 993,
			wantAuth: out.AuthMethodXOAuth2,
		},
		{
			name: "generic imap uses account host",
			account: func() *domain.Account {
				a := domain.NewAccount("u1", domain.ProviderIMAP, "Work", "me@corp.example")
				a.IMAPHost = "mail.corp.example"
				a.IMAPPort = 143
				a.Security = domain.SecurityStartTLS
				return a
			}(),
			creds:    pw,
			wantHost: "mail.corp.example",
			wantPort: 143,
			wantAuth: out.AuthMethodLogin,
		},
		{
			name:    "generic imap without host",
			account: domain.NewAccount("u1", domain.ProviderIMAP, "Work", "me@corp.example"),
			creds:   pw,
			wantErr: true,
		},
		{
			name:    "icloud rejects oauth2 credentials",
			account: domain.NewAccount("u1", domain.ProviderICloud, "Me", "user@me.com"),
			creds:   oa,
			wantErr: true,
		},
		{
			name:    "gmail rejects password credentials",
			account: domain.NewAccount("u1", domain.ProviderGmail, "G", "user@gmail.com"),
			creds:   pw,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.For(tt.account.Provider)
			if err != nil {
				t.Fatalf("For() error = %v", err)
			}
			params, err := p.ConnectionParams(tt.account, tt.creds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConnectionParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if params.Host != tt.wantHost || params.Port != tt.wantPort {
				t.Errorf("endpoint = %s:%d, want %s:%d", params.Host, params.Port, tt.wantHost, tt.wantPort)
			}
			if params.AuthMethod != tt.wantAuth {
				t.Errorf("auth = %s, want %s", params.AuthMethod, tt.wantAuth)
			}
		})
	}
}

func TestRegistryFor_Unknown(t *testing.T) {
	if _, err := testRegistry().For("yahoo"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// tokenServer answers the oauth2 refresh grant with the given JSON body.
func tokenServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q, want rt-old", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func testOAuthProvider(tokenURL string) *oauthProvider {
	return &oauthProvider{
		host:     "imap.gmail.com",
		port:     993,
		provider: domain.ProviderGmail,
		oauth: &oauth2.Config{
			ClientID: "gid",
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

func TestRefresh_PreservesRefreshTokenWhenServerOmitsIt(t *testing.T) {
	server := tokenServer(t, `{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`)
	defer server.Close()
	p := testOAuthProvider(server.URL)

	stale := domain.NewOAuth2Credentials("at-old", "rt-old", time.Now().Add(-time.Hour))
	creds, err := p.Refresh(context.Background(), stale)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "at-new" {
		t.Errorf("access token = %q, want at-new", creds.AccessToken)
	}
	if creds.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, must be preserved when the server omits it", creds.RefreshToken)
	}
	if creds.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Error("expiry must be derived from expires_in")
	}
}

func TestRefresh_RotatesRefreshTokenWhenServerSendsOne(t *testing.T) {
	server := tokenServer(t, `{"access_token":"at-new","refresh_token":"rt-new","token_type":"Bearer","expires_in":3600}`)
	defer server.Close()
	p := testOAuthProvider(server.URL)

	stale := domain.NewOAuth2Credentials("at-old", "rt-old", time.Now().Add(-time.Hour))
	creds, err := p.Refresh(context.Background(), stale)
	if err != nil {
		t.Fatal(err)
	}
	if creds.RefreshToken != "rt-new" {
		t.Errorf("refresh token = %q, want the rotated rt-new", creds.RefreshToken)
	}
}

func TestRefresh_RequiresRefreshToken(t *testing.T) {
	p := testOAuthProvider("http://localhost:0")

	if _, err := p.Refresh(context.Background(), domain.NewOAuth2Credentials("at", "", time.Now())); err == nil {
		t.Error("refresh without a refresh token must fail")
	}
	if _, err := p.Refresh(context.Background(), domain.NewPasswordCredentials("u", "p")); err == nil {
		t.Error("refreshing password credentials must fail")
	}
}

func TestNeedsRefresh(t *testing.T) {
	reg := testRegistry()
	gmail, _ := reg.For(domain.ProviderGmail)
	icloud, _ := reg.For(domain.ProviderICloud)

	tests := []struct {
		name     string
		provider out.MailProvider
		creds    *domain.Credentials
		want     bool
	}{
		{"password never refreshes", icloud, domain.NewPasswordCredentials("u", "p"), false},
		{"fresh token", gmail, domain.NewOAuth2Credentials("a", "r", time.Now().Add(time.Hour)), false},
		{"inside 5 min buffer", gmail, domain.NewOAuth2Credentials("a", "r", time.Now().Add(2*time.Minute)), true},
		{"expired token", gmail, domain.NewOAuth2Credentials("a", "r", time.Now().Add(-time.Hour)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provider.NeedsRefresh(tt.creds); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}
