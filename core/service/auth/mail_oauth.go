// Package auth implements the device-code OAuth engine and the in-memory
// account form state behind the UI surface.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/httputil"
	"mail_worker/pkg/logger"
)

// Device-grant endpoints. Gmail's token exchange requires the client secret
// even for the device grant; Microsoft's public-client flow does not.
const (
	googleDeviceURL = "https://oauth2.googleapis.com/device/code"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	googleScope     = "https://mail.google.com/"

	microsoftDeviceURLFmt = "https://login.microsoftonline.com/%s/oauth2/v2.0/devicecode"
	microsoftTokenURLFmt  = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	microsoftScope        = "https://outlook.office.com/IMAP.AccessAsUser.All offline_access"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// maxDevicePolls bounds the background poll regardless of what expiry the
	// server reports.
	maxDevicePolls = 60
)

// decodeJSON decodes JSON from reader into target struct
func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// OAuthConfig carries the registered client applications.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	MicrosoftClientID  string
	MicrosoftTenantID  string
}

// OAuthService runs the device-code grant: it hands the user code to the UI,
// polls the token endpoint in the background and lands the finished account.
type OAuthService struct {
	cfg        OAuthConfig
	accounts   out.AccountRepository
	vault      out.SecretVault
	registry   out.UserRegistry
	events     out.EventPublisher
	supervisor out.SupervisorNotifier
	editStates *EditStateService
	client     *http.Client
}

var _ in.OAuthService = (*OAuthService)(nil)

func NewOAuthService(
	cfg OAuthConfig,
	accounts out.AccountRepository,
	vault out.SecretVault,
	registry out.UserRegistry,
	events out.EventPublisher,
	supervisor out.SupervisorNotifier,
	editStates *EditStateService,
) *OAuthService {
	return &OAuthService{
		cfg:        cfg,
		accounts:   accounts,
		vault:      vault,
		registry:   registry,
		events:     events,
		supervisor: supervisor,
		editStates: editStates,
		client:     httputil.OAuthClient(),
	}
}

type deviceEndpoints struct {
	deviceURL    string
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
}

func (s *OAuthService) endpoints(provider domain.Provider) (*deviceEndpoints, error) {
	switch provider {
	case domain.ProviderGmail:
		if s.cfg.GoogleClientID == "" || s.cfg.GoogleClientSecret == "" {
			return nil, apperr.ConfigError("google oauth client not configured")
		}
		return &deviceEndpoints{
			deviceURL:    googleDeviceURL,
			tokenURL:     googleTokenURL,
			clientID:     s.cfg.GoogleClientID,
			clientSecret: s.cfg.GoogleClientSecret,
			scope:        googleScope,
		}, nil
	case domain.ProviderOutlook:
		if s.cfg.MicrosoftClientID == "" {
			return nil, apperr.ConfigError("microsoft oauth client not configured")
		}
		tenant := s.cfg.MicrosoftTenantID
		if tenant == "" {
			tenant = "common"
		}
		return &deviceEndpoints{
			deviceURL: fmt.Sprintf(microsoftDeviceURLFmt, tenant),
			tokenURL:  fmt.Sprintf(microsoftTokenURLFmt, tenant),
			clientID:  s.cfg.MicrosoftClientID,
			scope:     microsoftScope,
		}, nil
	default:
		return nil, apperr.BadRequest(fmt.Sprintf("provider %s does not use oauth", provider))
	}
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	// Google spells it verification_url.
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

func (r *deviceCodeResponse) verification() string {
	if r.VerificationURI != "" {
		return r.VerificationURI
	}
	return r.VerificationURL
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// StartDeviceFlow requests a device code, surfaces it through the user's edit
// state and spawns the background token poll. The UI renders the returned
// user code immediately.
func (s *OAuthService) StartDeviceFlow(ctx context.Context, userID string, provider domain.Provider, email string) (*in.DeviceAuthorization, error) {
	endpoints, err := s.endpoints(provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(email) == "" {
		return nil, apperr.MissingField("email")
	}

	form := url.Values{
		"client_id": {endpoints.clientID},
		"scope":     {endpoints.scope},
	}
	device, err := s.requestDeviceCode(ctx, endpoints.deviceURL, form)
	if err != nil {
		return nil, apperr.OAuthFailed(string(provider), err)
	}

	s.editStates.setOAuth(userID, func(state *domain.EditState) {
		state.Open = true
		state.Provider = provider
		state.Email = email
		state.OAuthStatus = domain.OAuthPending
		state.UserCode = device.UserCode
		state.VerificationURI = device.verification()
		state.OAuthError = ""
	})

	// The poll outlives the HTTP request that started it.
	go s.pollForToken(userID, provider, email, endpoints, device)

	return &in.DeviceAuthorization{
		UserCode:        device.UserCode,
		VerificationURI: device.verification(),
		ExpiresIn:       device.ExpiresIn,
	}, nil
}

func (s *OAuthService) requestDeviceCode(ctx context.Context, endpoint string, form url.Values) (*deviceCodeResponse, error) {
	resp, err := s.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("device code request failed with status %d: %s", resp.StatusCode, body)
	}

	var device deviceCodeResponse
	if err := decodeJSON(resp.Body, &device); err != nil {
		return nil, fmt.Errorf("failed to decode device code response: %w", err)
	}
	if device.DeviceCode == "" || device.UserCode == "" {
		return nil, fmt.Errorf("device code response missing codes")
	}
	if device.Interval <= 0 {
		device.Interval = 5
	}
	return &device, nil
}

// pollForToken runs the bounded token poll and lands the account on success.
// Progress is reflected in the user's edit state throughout.
func (s *OAuthService) pollForToken(userID string, provider domain.Provider, email string, endpoints *deviceEndpoints, device *deviceCodeResponse) {
	expiry := time.Duration(device.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), expiry)
	defer cancel()

	log := logger.WithUser(userID).WithField("provider", string(provider))
	interval := time.Duration(device.Interval) * time.Second

	for attempt := 0; attempt < maxDevicePolls; attempt++ {
		select {
		case <-ctx.Done():
			s.failFlow(userID, "authorization timed out")
			return
		case <-time.After(interval):
		}

		token, pending, err := s.exchangeDeviceCode(ctx, endpoints, device.DeviceCode)
		if err != nil {
			log.WithError(err).Warn("[OAuthService.pollForToken] authorization failed")
			s.failFlow(userID, err.Error())
			return
		}
		if pending {
			if token != nil && token.Error == "slow_down" {
				interval += 5 * time.Second
			}
			continue
		}

		if err := s.completeFlow(ctx, userID, provider, email, token); err != nil {
			log.WithError(err).Error("[OAuthService.pollForToken] failed to store authorized account")
			s.failFlow(userID, "failed to store account: "+err.Error())
			return
		}
		log.Info("[OAuthService.pollForToken] account authorized")
		return
	}
	s.failFlow(userID, "authorization timed out")
}

// exchangeDeviceCode performs one token poll. pending is true while the user
// has not finished approving.
func (s *OAuthService) exchangeDeviceCode(ctx context.Context, endpoints *deviceEndpoints, deviceCode string) (*tokenResponse, bool, error) {
	form := url.Values{
		"client_id":   {endpoints.clientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}
	if endpoints.clientSecret != "" {
		form.Set("client_secret", endpoints.clientSecret)
	}

	resp, err := s.postForm(ctx, endpoints.tokenURL, form)
	if err != nil {
		// Transient network trouble counts as pending; the next poll retries.
		return nil, true, nil
	}
	defer resp.Body.Close()

	var token tokenResponse
	if err := decodeJSON(resp.Body, &token); err != nil {
		return nil, false, fmt.Errorf("failed to decode token response: %w", err)
	}

	switch token.Error {
	case "":
		if token.AccessToken == "" {
			return nil, false, fmt.Errorf("token response carried no access token")
		}
		return &token, false, nil
	case "authorization_pending", "slow_down":
		return &token, true, nil
	default:
		if token.ErrorDescription != "" {
			return nil, false, fmt.Errorf("%s: %s", token.Error, token.ErrorDescription)
		}
		return nil, false, fmt.Errorf("%s", token.Error)
	}
}

// completeFlow stores the credentials, lands the account and wakes the
// worker fleet.
func (s *OAuthService) completeFlow(ctx context.Context, userID string, provider domain.Provider, email string, token *tokenResponse) error {
	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	creds := domain.NewOAuth2Credentials(token.AccessToken, token.RefreshToken, expiresAt)

	account, err := s.targetAccount(ctx, userID, provider, email)
	if err != nil {
		return err
	}

	encoded, err := creds.Encode()
	if err != nil {
		return err
	}
	if err := s.vault.Set(ctx, account.CredentialsKey(), encoded); err != nil {
		return err
	}
	if err := s.registry.Register(ctx, userID); err != nil {
		return err
	}

	s.editStates.setOAuth(userID, func(state *domain.EditState) {
		state.OAuthStatus = domain.OAuthConnected
		state.AccountID = account.ID
		state.UserCode = ""
		state.VerificationURI = ""
		state.OAuthError = ""
	})

	if err := s.events.Publish(ctx, domain.NewEvent(domain.EventAccountChanged, userID)); err != nil {
		logger.WithUser(userID).WithError(err).Warn("[OAuthService.completeFlow] event publish failed")
	}
	s.supervisor.UserChanged(userID)
	return nil
}

// targetAccount reuses the account being edited when there is one, otherwise
// lands a new account from the form.
func (s *OAuthService) targetAccount(ctx context.Context, userID string, provider domain.Provider, email string) (*domain.Account, error) {
	state := s.editStates.Get(userID)
	if state.AccountID != "" {
		account, err := s.accounts.GetByID(ctx, userID, state.AccountID)
		if err == nil {
			return account, nil
		}
		if apperr.AsAppError(err).Code != apperr.CodeNotFound {
			return nil, err
		}
	}

	name := state.Name
	if name == "" {
		name = email
	}
	account := domain.NewAccount(userID, provider, name, email)
	if err := account.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *OAuthService) failFlow(userID, reason string) {
	s.editStates.setOAuth(userID, func(state *domain.EditState) {
		state.OAuthStatus = domain.OAuthFailed
		state.OAuthError = reason
		state.UserCode = ""
		state.VerificationURI = ""
	})
}

func (s *OAuthService) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}
