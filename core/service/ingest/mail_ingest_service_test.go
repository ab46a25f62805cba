package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// --- fakes ------------------------------------------------------------

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newFakeAccounts(accounts ...*domain.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
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
	copied := *a
	return &copied, nil
}
func (f *fakeAccounts) ListByUser(_ context.Context, userID string) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*domain.Account
	for _, a := range f.accounts {
		if a.UserID == userID {
			copied := *a
			result = append(result, &copied)
		}
	}
	return result, nil
}
func (f *fakeAccounts) ListEnabledByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	all, _ := f.ListByUser(ctx, userID)
	var result []*domain.Account
	for _, a := range all {
		if a.Enabled {
			result = append(result, a)
		}
	}
	return result, nil
}
func (f *fakeAccounts) SetLastSync(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.LastSync = at
		a.LastError = ""
	}
	return nil
}
func (f *fakeAccounts) SetLastError(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.LastError = msg
	}
	return nil
}

type fakeProcessed struct {
	mu   sync.Mutex
	rows map[string]*domain.ProcessedRecord
}

func newFakeProcessed() *fakeProcessed {
	return &fakeProcessed{rows: make(map[string]*domain.ProcessedRecord)}
}

func (f *fakeProcessed) Watermark(_ context.Context, accountID string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max uint32
	for _, r := range f.rows {
		if r.AccountID == accountID && r.UID > max {
			max = r.UID
		}
	}
	return max, nil
}
func (f *fakeProcessed) IsProcessed(_ context.Context, accountID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[domain.ProcessedID(accountID, messageID)]
	return ok, nil
}
func (f *fakeProcessed) MarkProcessed(_ context.Context, accountID, messageID string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := domain.ProcessedID(accountID, messageID)
	if _, ok := f.rows[id]; !ok {
		f.rows[id] = domain.NewProcessedRecord(accountID, messageID, uid)
	}
	return nil
}
func (f *fakeProcessed) TryClaim(_ context.Context, accountID, messageID string, uid uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := domain.ProcessedID(accountID, messageID)
	if _, ok := f.rows[id]; ok {
		return false, nil
	}
	f.rows[id] = domain.NewProcessedRecord(accountID, messageID, uid)
	return true, nil
}
func (f *fakeProcessed) DeleteByAccount(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.AccountID == accountID {
			delete(f.rows, id)
		}
	}
	return nil
}
func (f *fakeProcessed) count(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.AccountID == accountID {
			n++
		}
	}
	return n
}

type fakeSettings struct{ instruction string }

func (f *fakeSettings) Get(_ context.Context, userID string) (*domain.Settings, error) {
	return &domain.Settings{UserID: userID, Instruction: f.instruction}, nil
}
func (f *fakeSettings) Update(_ context.Context, _ *domain.Settings) error { return nil }

type fakeVault struct {
	mu     sync.Mutex
	data   map[string]string
	writes int
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
	f.writes++
	return nil
}
func (f *fakeVault) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeProvider struct {
	refreshed *domain.Credentials
	refreshes int
}

func (f *fakeProvider) ConnectionParams(account *domain.Account, creds *domain.Credentials) (*out.ConnectionParams, error) {
	return &out.ConnectionParams{Host: "imap.test", Port: 993, Username: account.Email}, nil
}
func (f *fakeProvider) NeedsRefresh(creds *domain.Credentials) bool {
	return creds.ExpiresWithin(5 * time.Minute)
}
func (f *fakeProvider) Refresh(_ context.Context, _ *domain.Credentials) (*domain.Credentials, error) {
	f.refreshes++
	return f.refreshed, nil
}

type fakeRegistry struct{ provider *fakeProvider }

func (f *fakeRegistry) For(_ domain.Provider) (out.MailProvider, error) { return f.provider, nil }

type fakeConnection struct {
	mu       sync.Mutex
	emails   []*domain.Email
	fetchErr error
}

func (f *fakeConnection) Test(_ context.Context) error { return nil }
func (f *fakeConnection) FetchSince(_ context.Context, sinceUID uint32, limit int) ([]*domain.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.fetchErr = nil
		return nil, err
	}
	var result []*domain.Email
	for _, e := range f.emails {
		if e.UID > sinceUID {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}
func (f *fakeConnection) FetchByUID(_ context.Context, uid uint32) (*domain.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.emails {
		if e.UID == uid {
			return e, nil
		}
	}
	return nil, fmt.Errorf("message %d not found", uid)
}
func (f *fakeConnection) IdleListen(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeConnection) Logout() error { return nil }

func (f *fakeConnection) deliver(email *domain.Email) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
}

// failNextFetch makes the next FetchSince error once, like a socket drop.
func (f *fakeConnection) failNextFetch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

type fakeConnector struct{ conn *fakeConnection }

func (f *fakeConnector) Dial(_ context.Context, _ *out.ConnectionParams) (out.MailConnection, error) {
	return f.conn, nil
}

type fakeSink struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSink) AppendInstruction(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}
func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

// --- fixtures ---------------------------------------------------------

func email(uid uint32, msgID string) *domain.Email {
	return &domain.Email{
		UID:       uid,
		MessageID: msgID,
		FromAddr:  "sender@example.com",
		Subject:   fmt.Sprintf("msg %d", uid),
		Date:      time.Now(),
		Body:      "body",
	}
}

type fixture struct {
	svc       *Service
	accounts  *fakeAccounts
	processed *fakeProcessed
	vault     *fakeVault
	conn      *fakeConnection
	sink      *fakeSink
	provider  *fakeProvider
	account   *domain.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	account := domain.NewAccount("user-1", domain.ProviderICloud, "Personal", "me@me.com")

	vault := newFakeVault()
	creds := domain.NewPasswordCredentials("me@me.com", "app-pass")
	encoded, err := creds.Encode()
	if err != nil {
		t.Fatal(err)
	}
	vault.data[account.CredentialsKey()] = encoded
	vault.writes = 0

	f := &fixture{
		accounts:  newFakeAccounts(account),
		processed: newFakeProcessed(),
		vault:     vault,
		conn:      &fakeConnection{},
		sink:      &fakeSink{},
		provider:  &fakeProvider{},
		account:   account,
	}
	f.svc = NewService(
		f.accounts, f.processed, &fakeSettings{}, f.vault,
		&fakeRegistry{provider: f.provider}, &fakeConnector{conn: f.conn}, f.sink, 50,
	)
	return f
}

// --- tests ------------------------------------------------------------

func TestIngest_BaselineDeliversNothing(t *testing.T) {
	f := newFixture(t)
	f.conn.deliver(email(10, "<m10@x>"))
	f.conn.deliver(email(11, "<m11@x>"))
	f.conn.deliver(email(12, "<m12@x>"))

	if err := f.svc.IngestAccount(context.Background(), "user-1", f.account.ID); err != nil {
		t.Fatalf("IngestAccount() error = %v", err)
	}

	if got := f.sink.count(); got != 0 {
		t.Errorf("baseline delivered %d instructions, want 0", got)
	}
	if got := f.processed.count(f.account.ID); got != 1 {
		t.Errorf("baseline created %d rows, want 1", got)
	}
	wm, _ := f.processed.Watermark(context.Background(), f.account.ID)
	if wm != 12 {
		t.Errorf("watermark = %d, want 12", wm)
	}
}

func TestIngest_NewMailAfterBaseline(t *testing.T) {
	f := newFixture(t)
	f.conn.deliver(email(10, "<m10@x>"))
	f.conn.deliver(email(12, "<m12@x>"))
	ctx := context.Background()

	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	f.conn.deliver(email(13, "<m13@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}

	if got := f.sink.count(); got != 1 {
		t.Fatalf("delivered %d instructions, want 1", got)
	}
	wm, _ := f.processed.Watermark(ctx, f.account.ID)
	if wm != 13 {
		t.Errorf("watermark = %d, want 13", wm)
	}
}

func TestIngest_SessionRestartSuppressesBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Mail already processed in an earlier process lifetime.
	f.conn.deliver(email(10, "<m10@x>"))
	f.processed.MarkProcessed(ctx, f.account.ID, "<m10@x>", 10)
	// Backlog accumulated while the process was down.
	f.conn.deliver(email(11, "<m11@x>"))
	f.conn.deliver(email(12, "<m12@x>"))

	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.sink.count(); got != 0 {
		t.Errorf("restart resync delivered %d instructions, want 0", got)
	}
	wm, _ := f.processed.Watermark(ctx, f.account.ID)
	if wm != 12 {
		t.Errorf("watermark = %d, want 12", wm)
	}

	// Subsequent new mail is delivered normally.
	f.conn.deliver(email(13, "<m13@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.sink.count(); got != 1 {
		t.Errorf("post-restart delivery count = %d, want 1", got)
	}
}

func TestIngest_FailedResyncDoesNotReplayBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Mail processed in an earlier process lifetime, plus backlog accrued
	// while the process was down.
	f.conn.deliver(email(50, "<m50@x>"))
	f.processed.MarkProcessed(ctx, f.account.ID, "<m50@x>", 50)
	f.conn.deliver(email(51, "<m51@x>"))
	f.conn.deliver(email(52, "<m52@x>"))
	f.conn.deliver(email(53, "<m53@x>"))

	// The first resync after the restart dies on the socket.
	f.conn.failNextFetch(fmt.Errorf("read tcp: connection reset by peer"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err == nil {
		t.Fatal("failed resync must surface its error")
	}

	// The reconnected session's next round must still resync, not replay.
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.sink.count(); got != 0 {
		t.Errorf("restart backlog replayed: %d instructions delivered, want 0", got)
	}
	wm, _ := f.processed.Watermark(ctx, f.account.ID)
	if wm != 53 {
		t.Errorf("watermark = %d, want 53", wm)
	}

	// New mail after the recovered resync flows normally.
	f.conn.deliver(email(54, "<m54@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.sink.count(); got != 1 {
		t.Errorf("post-recovery delivery count = %d, want 1", got)
	}
}

func TestIngest_ExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.conn.deliver(email(10, "<m10@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err) // baseline
	}
	f.conn.deliver(email(14, "<m14@x>"))

	// IDLE event and poll tick race into the same handler.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.IngestAccount(ctx, "user-1", f.account.ID)
		}()
	}
	wg.Wait()

	if got := f.sink.count(); got != 1 {
		t.Errorf("concurrent ingestion delivered %d instructions, want exactly 1", got)
	}
}

func TestIngest_DeliveriesPreserveUIDOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.conn.deliver(email(10, "<m10@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	for uid := uint32(11); uid <= 15; uid++ {
		f.conn.deliver(email(uid, fmt.Sprintf("<m%d@x>", uid)))
	}
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}

	if len(f.sink.texts) != 5 {
		t.Fatalf("delivered %d, want 5", len(f.sink.texts))
	}
	for i, want := range []string{"msg 11", "msg 12", "msg 13", "msg 14", "msg 15"} {
		if !strings.Contains(f.sink.texts[i], "Subject: "+want) {
			t.Errorf("delivery %d = %q, want subject %q", i, f.sink.texts[i], want)
		}
	}
}

func TestIngest_DisabledAccountIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.account.Enabled = false
	f.accounts.Update(context.Background(), f.account)
	f.conn.deliver(email(10, "<m10@x>"))

	if err := f.svc.IngestAccount(context.Background(), "user-1", f.account.ID); err != nil {
		t.Fatalf("IngestAccount() error = %v", err)
	}
	if f.sink.count() != 0 || f.processed.count(f.account.ID) != 0 {
		t.Error("disabled account must not be ingested")
	}
}

func TestEnsureFresh_NoWriteWhenFresh(t *testing.T) {
	f := newFixture(t)
	creds := domain.NewOAuth2Credentials("at", "rt", time.Now().Add(time.Hour))

	got, refreshed, err := f.svc.EnsureFresh(context.Background(), f.account, creds)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed {
		t.Error("fresh credentials must not be refreshed")
	}
	if got != creds {
		t.Error("fresh credentials must be returned unchanged")
	}
	if f.vault.writes != 0 {
		t.Errorf("vault writes = %d, want 0", f.vault.writes)
	}
	if f.provider.refreshes != 0 {
		t.Errorf("provider refreshes = %d, want 0", f.provider.refreshes)
	}
}

func TestEnsureFresh_RefreshesAndPersistsStaleToken(t *testing.T) {
	f := newFixture(t)
	stale := domain.NewOAuth2Credentials("old", "rt", time.Now().Add(time.Minute))
	f.provider.refreshed = domain.NewOAuth2Credentials("new", "rt", time.Now().Add(time.Hour))

	got, refreshed, err := f.svc.EnsureFresh(context.Background(), f.account, stale)
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed {
		t.Fatal("stale credentials must be refreshed")
	}
	if got.AccessToken != "new" {
		t.Errorf("access token = %q", got.AccessToken)
	}
	if got.ExpiresAt.Before(time.Now().Add(10 * time.Minute)) {
		t.Error("refreshed expiry must be well in the future")
	}
	if f.vault.writes != 1 {
		t.Errorf("vault writes = %d, want 1", f.vault.writes)
	}

	stored, err := f.vault.Get(context.Background(), f.account.CredentialsKey())
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := domain.DecodeCredentials(stored)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.AccessToken != "new" {
		t.Error("vault must reflect the new token")
	}
}

func TestIngest_SinkFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conn.deliver(email(10, "<m10@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}

	failing := &failingSink{}
	f.svc.sink = failing
	f.conn.deliver(email(11, "<m11@x>"))
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatalf("sink failure must not fail the round: %v", err)
	}

	// Claim stands: the message is never redelivered.
	f.svc.sink = f.sink
	if err := f.svc.IngestAccount(ctx, "user-1", f.account.ID); err != nil {
		t.Fatal(err)
	}
	if f.sink.count() != 0 {
		t.Error("message was redelivered after sink failure")
	}
}

type failingSink struct{}

func (f *failingSink) AppendInstruction(_ context.Context, _, _ string) error {
	return fmt.Errorf("sink unavailable")
}
