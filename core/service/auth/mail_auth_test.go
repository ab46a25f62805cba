package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mail_worker/core/domain"
)

// --- fakes ------------------------------------------------------------

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]*domain.Account)}
}

func (f *fakeAccounts) Create(_ context.Context, a *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = a
	return nil
}
func (f *fakeAccounts) Update(_ context.Context, a *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = a
	return nil
}
func (f *fakeAccounts) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
	return nil
}
func (f *fakeAccounts) GetByID(_ context.Context, userID, id string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("account not found")
	}
	return a, nil
}
func (f *fakeAccounts) ListByUser(_ context.Context, userID string) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Account
	for _, a := range f.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAccounts) ListEnabledByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	return f.ListByUser(ctx, userID)
}
func (f *fakeAccounts) SetLastSync(_ context.Context, _ string, _ time.Time) error { return nil }
func (f *fakeAccounts) SetLastError(_ context.Context, _, _ string) error          { return nil }

type fakeVault struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeVault() *fakeVault { return &fakeVault{data: make(map[string]string)} }

func (f *fakeVault) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found")
	}
	return v, nil
}
func (f *fakeVault) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}
func (f *fakeVault) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeRegistry struct {
	mu    sync.Mutex
	users map[string]bool
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{users: make(map[string]bool)} }

func (f *fakeRegistry) Register(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = true
	return nil
}
func (f *fakeRegistry) Unregister(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	return nil
}
func (f *fakeRegistry) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.users {
		out = append(out, id)
	}
	return out, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (f *fakeEvents) Publish(_ context.Context, event *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
func (f *fakeEvents) typeCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeSupervisor struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (f *fakeSupervisor) UserChanged(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, userID)
}
func (f *fakeSupervisor) UserRemoved(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, userID)
}

// --- edit state -------------------------------------------------------

func TestEditState_FormLifecycle(t *testing.T) {
	events := &fakeEvents{}
	svc := NewEditStateService(newFakeAccounts(), events)

	state := svc.Get("user-1")
	if state.Open || state.OAuthStatus != domain.OAuthIdle {
		t.Fatalf("fresh state = %+v, want closed idle form", state)
	}

	state = svc.ShowAddForm("user-1")
	if !state.Open {
		t.Error("ShowAddForm() must open the form")
	}

	if _, err := svc.UpdateField("user-1", "provider", "imap"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateField("user-1", "imap_host", "mail.example.com"); err != nil {
		t.Fatal(err)
	}
	state, err := svc.UpdateField("user-1", "imap_port", "1993")
	if err != nil {
		t.Fatal(err)
	}
	if state.Provider != domain.ProviderIMAP || state.IMAPHost != "mail.example.com" || state.IMAPPort != 1993 {
		t.Errorf("form = %+v", state)
	}

	if _, err := svc.UpdateField("user-1", "imap_port", "notaport"); err == nil {
		t.Error("invalid port must be rejected")
	}
	if _, err := svc.UpdateField("user-1", "favourite_colour", "blue"); err == nil {
		t.Error("unknown field must be rejected")
	}

	state = svc.CloseModal("user-1")
	if state.Open || state.IMAPHost != "" {
		t.Errorf("CloseModal() must reset the form, got %+v", state)
	}

	if events.typeCount(domain.EventEditChanged) == 0 {
		t.Error("form mutations must emit edit change events")
	}
}

func TestEditState_EvictsOldestAtCapacity(t *testing.T) {
	svc := NewEditStateService(newFakeAccounts(), &fakeEvents{})

	for i := 0; i < maxEditStates; i++ {
		svc.Get(fmt.Sprintf("user-%d", i))
	}
	svc.mu.Lock()
	svc.states["user-42"].UpdatedAt = time.Now().Add(-time.Hour)
	svc.mu.Unlock()

	svc.Get("user-new")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.states) != maxEditStates {
		t.Fatalf("state count = %d, want %d", len(svc.states), maxEditStates)
	}
	if _, ok := svc.states["user-42"]; ok {
		t.Error("oldest state must be evicted")
	}
	if _, ok := svc.states["user-new"]; !ok {
		t.Error("new state must be present")
	}
}

// --- oauth device flow ------------------------------------------------

func newTestOAuthService(accounts *fakeAccounts, vault *fakeVault, registry *fakeRegistry, events *fakeEvents, supervisor *fakeSupervisor) *OAuthService {
	return NewOAuthService(
		OAuthConfig{
			GoogleClientID:     "google-client",
			GoogleClientSecret: "google-secret",
			MicrosoftClientID:  "ms-client",
			MicrosoftTenantID:  "common",
		},
		accounts, vault, registry, events, supervisor,
		NewEditStateService(accounts, events),
	)
}

func TestOAuth_EndpointSelection(t *testing.T) {
	svc := newTestOAuthService(newFakeAccounts(), newFakeVault(), newFakeRegistry(), &fakeEvents{}, &fakeSupervisor{})

	google, err := svc.endpoints(domain.ProviderGmail)
	if err != nil {
		t.Fatal(err)
	}
	if google.tokenURL != googleTokenURL || google.clientSecret == "" {
		t.Errorf("gmail endpoints = %+v", google)
	}

	ms, err := svc.endpoints(domain.ProviderOutlook)
	if err != nil {
		t.Fatal(err)
	}
	if ms.tokenURL != "https://login.microsoftonline.com/common/oauth2/v2.0/token" {
		t.Errorf("outlook token url = %s", ms.tokenURL)
	}
	if ms.clientSecret != "" {
		t.Error("microsoft device flow must not carry a secret")
	}

	if _, err := svc.endpoints(domain.ProviderICloud); err == nil {
		t.Error("password providers must not resolve oauth endpoints")
	}
}

func TestOAuth_DeviceFlowCompletes(t *testing.T) {
	var polls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/device":
			fmt.Fprint(w, `{"device_code":"dev-1","user_code":"ABCD-EFGH","verification_uri":"https://example.com/device","expires_in":300,"interval":0}`)
		case "/token":
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n < 3 {
				fmt.Fprint(w, `{"error":"authorization_pending"}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	accounts := newFakeAccounts()
	vault := newFakeVault()
	registry := newFakeRegistry()
	events := &fakeEvents{}
	supervisor := &fakeSupervisor{}
	svc := newTestOAuthService(accounts, vault, registry, events, supervisor)

	endpoints := &deviceEndpoints{
		deviceURL: server.URL + "/device",
		tokenURL:  server.URL + "/token",
		clientID:  "google-client",
		scope:     googleScope,
	}
	device, err := svc.requestDeviceCode(context.Background(), endpoints.deviceURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if device.UserCode != "ABCD-EFGH" || device.verification() != "https://example.com/device" {
		t.Fatalf("device response = %+v", device)
	}
	device.Interval = 0 // fast poll for the test

	svc.editStates.ShowAddForm("user-1")
	svc.pollForToken("user-1", domain.ProviderGmail, "me@gmail.com", endpoints, device)

	state := svc.editStates.Get("user-1")
	if state.OAuthStatus != domain.OAuthConnected {
		t.Fatalf("oauth status = %s, want connected (error=%q)", state.OAuthStatus, state.OAuthError)
	}
	if state.AccountID == "" {
		t.Fatal("connected state must reference the landed account")
	}

	account, err := accounts.GetByID(context.Background(), "user-1", state.AccountID)
	if err != nil {
		t.Fatal(err)
	}
	if account.Provider != domain.ProviderGmail || account.AuthType != domain.AuthOAuth2 {
		t.Errorf("account = %+v", account)
	}

	raw, err := vault.Get(context.Background(), account.CredentialsKey())
	if err != nil {
		t.Fatal(err)
	}
	creds, err := domain.DecodeCredentials(raw)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "at-1" || creds.RefreshToken != "rt-1" {
		t.Errorf("stored credentials = %+v", creds)
	}

	if !registry.users["user-1"] {
		t.Error("user must be registered after landing the account")
	}
	if events.typeCount(domain.EventAccountChanged) != 1 {
		t.Error("landing must emit an account change event")
	}
	if len(supervisor.changed) != 1 {
		t.Error("landing must wake the worker fleet")
	}
}

func TestOAuth_DeniedAuthorizationFailsFlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":"access_denied","error_description":"user rejected the request"}`)
	}))
	defer server.Close()

	svc := newTestOAuthService(newFakeAccounts(), newFakeVault(), newFakeRegistry(), &fakeEvents{}, &fakeSupervisor{})
	endpoints := &deviceEndpoints{tokenURL: server.URL, clientID: "google-client"}
	device := &deviceCodeResponse{DeviceCode: "dev-1", UserCode: "X", ExpiresIn: 300, Interval: 0}

	svc.pollForToken("user-1", domain.ProviderGmail, "me@gmail.com", endpoints, device)

	state := svc.editStates.Get("user-1")
	if state.OAuthStatus != domain.OAuthFailed {
		t.Fatalf("oauth status = %s, want failed", state.OAuthStatus)
	}
	if state.OAuthError == "" {
		t.Error("failed flow must carry the denial reason")
	}
}
