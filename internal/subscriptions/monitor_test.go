package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/clock"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/retry"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	mu      sync.Mutex
	status  string
	getErr  error
	gets    []string
	updates []string
}

func (c *fakeClient) GetSubscription(ctx context.Context, instance, id string) (*provider.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = append(c.gets, id)
	if c.getErr != nil {
		return nil, c.getErr
	}
	return &provider.Subscription{ID: id, Status: c.status}, nil
}

func (c *fakeClient) UpdateSubscription(ctx context.Context, instance, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, id)
	return nil
}

// fakeInstallation only serves subscription calls.
type fakeInstallation struct {
	client *fakeClient
}

func (f *fakeInstallation) Provider() string                    { return integrations.ProviderVSTS }
func (f *fakeInstallation) Instance() string                    { return "https://dev.azure.com/acme" }
func (f *fakeInstallation) Client() provider.SubscriptionClient { return f.client }
func (f *fakeInstallation) ShouldSync(provider.SyncKind) bool   { return false }

func (f *fakeInstallation) CreateComment(ctx context.Context, key, text string) error {
	return errors.New("unexpected CreateComment")
}

func (f *fakeInstallation) SyncAssigneeOutbound(ctx context.Context, issue tracker.ExternalIssue, user *tracker.User, assign bool) error {
	return errors.New("unexpected SyncAssigneeOutbound")
}

func (f *fakeInstallation) SyncStatusOutbound(ctx context.Context, issue tracker.ExternalIssue, resolved bool, projectID int64) error {
	return errors.New("unexpected SyncStatusOutbound")
}

func (f *fakeInstallation) SyncMetadata(ctx context.Context) (integrations.Metadata, error) {
	return integrations.Metadata{}, errors.New("unexpected SyncMetadata")
}

type fakeResolver struct {
	inst provider.Installation
	orgs []int64
}

func (r *fakeResolver) Installation(ctx context.Context, in *integrations.Integration, organizationID int64) (provider.Installation, error) {
	r.orgs = append(r.orgs, organizationID)
	return r.inst, nil
}

type recordingScheduler struct {
	mu   sync.Mutex
	args []CheckArgs
}

func (s *recordingScheduler) Schedule(ctx context.Context, name string, args any, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != TaskCheck {
		return errors.New("unexpected task " + name)
	}
	s.args = append(s.args, args.(CheckArgs))
	return nil
}

type fixture struct {
	db    *db.DB
	store *integrations.Store
	clock *clock.FakeClock
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	for _, slug := range []string{"acme", "globex"} {
		if _, err := database.ExecContext(context.Background(), "INSERT INTO organizations (slug) VALUES (?)", slug); err != nil {
			t.Fatalf("insert org: %v", err)
		}
	}
	return &fixture{db: database, store: integrations.NewStore(database), clock: clock.Fake(testNow)}
}

// addIntegration creates a VSTS integration attached to orgIDs.
func (f *fixture) addIntegration(t *testing.T, meta integrations.Metadata, orgIDs ...int64) *integrations.Integration {
	t.Helper()
	ctx := context.Background()
	in, err := f.store.Create(ctx, integrations.Integration{Provider: integrations.ProviderVSTS, Metadata: meta})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, orgID := range orgIDs {
		if _, err := f.store.AddOrganization(ctx, integrations.OrganizationIntegration{OrganizationID: orgID, IntegrationID: in.ID}); err != nil {
			t.Fatalf("AddOrganization: %v", err)
		}
	}
	return in
}

func (f *fixture) service(t *testing.T, resolver InstallationResolver, scheduler queue.Scheduler, touchHealthy bool) *Service {
	t.Helper()
	m, err := DefaultMonitor(integrations.ProviderVSTS, 6*time.Hour, touchHealthy)
	if err != nil {
		t.Fatalf("DefaultMonitor: %v", err)
	}
	return NewService(Config{
		Integrations:  f.store,
		Installations: resolver,
		Scheduler:     scheduler,
		Monitors:      []Monitor{m},
		Clock:         f.clock,
		Logger:        discardLogger(),
	})
}

func subscription(id string, check *time.Time) integrations.Metadata {
	return integrations.Metadata{
		DomainName:   "https://dev.azure.com/acme/",
		Subscription: &integrations.Subscription{ID: id, Status: provider.VSTSEnabledStatus, Check: check},
	}
}

func at(t time.Time) *time.Time { return &t }

func TestDefaultMonitor(t *testing.T) {
	m, err := DefaultMonitor(integrations.ProviderVSTS, 0, false)
	if err != nil {
		t.Fatalf("DefaultMonitor: %v", err)
	}
	if m.DisabledStatus != "disabledBySystem" || m.EnabledStatus != "enabled" {
		t.Errorf("vsts statuses = %q/%q", m.DisabledStatus, m.EnabledStatus)
	}
	if m.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", m.Interval, DefaultInterval)
	}

	gh, err := DefaultMonitor(integrations.ProviderGitHub, time.Hour, false)
	if err != nil {
		t.Fatalf("DefaultMonitor: %v", err)
	}
	if gh.DisabledStatus != provider.GitHubDisabledStatus {
		t.Errorf("github DisabledStatus = %q", gh.DisabledStatus)
	}

	if _, err := DefaultMonitor("jira", time.Hour, false); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestScanSelectsStaleSubscriptions(t *testing.T) {
	f := setupFixture(t)

	f.addIntegration(t, integrations.Metadata{DomainName: "https://dev.azure.com/nosub/"}, 1)
	f.addIntegration(t, subscription("", nil), 1)
	never := f.addIntegration(t, subscription("S-never", nil), 1, 2)
	f.addIntegration(t, subscription("S-fresh", at(testNow.Add(-time.Hour))), 1)
	stale := f.addIntegration(t, subscription("S-stale", at(testNow.Add(-7*time.Hour))), 2)
	boundary := f.addIntegration(t, subscription("S-boundary", at(testNow.Add(-6*time.Hour))))

	sched := &recordingScheduler{}
	svc := f.service(t, &fakeResolver{}, sched, false)

	var progress []int
	result, err := svc.Scan(context.Background(), integrations.ProviderVSTS, func(done, total int) {
		if total != 6 {
			t.Errorf("total = %d, want 6", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := ScanResult{Provider: integrations.ProviderVSTS, Scanned: 6, Skipped: 2, Selected: 3, Scheduled: 3}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}
	if len(progress) != 6 || progress[5] != 6 {
		t.Errorf("progress = %v", progress)
	}

	wantArgs := []CheckArgs{
		{IntegrationID: never.ID, OrganizationID: 1},
		{IntegrationID: never.ID, OrganizationID: 2},
		{IntegrationID: stale.ID, OrganizationID: 2},
	}
	if len(sched.args) != len(wantArgs) {
		t.Fatalf("scheduled %v, want %v", sched.args, wantArgs)
	}
	for i := range wantArgs {
		if sched.args[i] != wantArgs[i] {
			t.Errorf("scheduled[%d] = %+v, want %+v", i, sched.args[i], wantArgs[i])
		}
	}
	for _, a := range sched.args {
		if a.IntegrationID == boundary.ID {
			t.Error("integration without organizations was scheduled")
		}
	}
}

func TestScanUnknownProvider(t *testing.T) {
	f := setupFixture(t)
	svc := f.service(t, &fakeResolver{}, &recordingScheduler{}, false)

	if _, err := svc.Scan(context.Background(), integrations.ProviderGitHub, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestCheckLeavesHealthySubscriptionUntouched(t *testing.T) {
	f := setupFixture(t)
	in := f.addIntegration(t, subscription("S1", nil), 1)

	client := &fakeClient{status: provider.VSTSEnabledStatus}
	resolver := &fakeResolver{inst: &fakeInstallation{client: client}}
	svc := f.service(t, resolver, &recordingScheduler{}, false)

	if err := svc.Check(context.Background(), in.ID, 1); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(client.gets) != 1 || len(client.updates) != 0 {
		t.Errorf("gets = %v, updates = %v", client.gets, client.updates)
	}
	if len(resolver.orgs) != 1 || resolver.orgs[0] != 1 {
		t.Errorf("resolved orgs = %v, want [1]", resolver.orgs)
	}

	got, _ := f.store.Get(context.Background(), in.ID)
	if got.Metadata.Subscription.Check != nil {
		t.Errorf("Check = %v, want unset", got.Metadata.Subscription.Check)
	}
}

func TestCheckTouchHealthyRecordsCheck(t *testing.T) {
	f := setupFixture(t)
	in := f.addIntegration(t, subscription("S1", nil), 1)

	client := &fakeClient{status: provider.VSTSEnabledStatus}
	svc := f.service(t, &fakeResolver{inst: &fakeInstallation{client: client}}, &recordingScheduler{}, true)

	if err := svc.Check(context.Background(), in.ID, 1); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(client.updates) != 0 {
		t.Errorf("updates = %v, want none", client.updates)
	}

	got, _ := f.store.Get(context.Background(), in.ID)
	sub := got.Metadata.Subscription
	if sub.Check == nil || !sub.Check.Equal(testNow) {
		t.Errorf("Check = %v, want %v", sub.Check, testNow)
	}

	// A touched subscription is not selected again within the interval.
	sched := &recordingScheduler{}
	svc = f.service(t, &fakeResolver{}, sched, true)
	f.clock.Advance(5 * time.Hour)
	result, err := svc.Scan(context.Background(), integrations.ProviderVSTS, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Selected != 0 {
		t.Errorf("Selected = %d, want 0", result.Selected)
	}
}

func TestCheckRemovedSubscriptionIsNoop(t *testing.T) {
	f := setupFixture(t)
	in := f.addIntegration(t, integrations.Metadata{DomainName: "https://dev.azure.com/acme/"}, 1)

	resolver := &fakeResolver{}
	svc := f.service(t, resolver, &recordingScheduler{}, false)

	if err := svc.Check(context.Background(), in.ID, 1); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(resolver.orgs) != 0 {
		t.Error("installation resolved for integration without subscription")
	}
}

func TestCheckUnknownProviderIsPermanent(t *testing.T) {
	f := setupFixture(t)
	in, err := f.store.Create(context.Background(), integrations.Integration{
		Provider: integrations.ProviderGitHub,
		Metadata: integrations.Metadata{Subscription: &integrations.Subscription{ID: "H1"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	svc := f.service(t, &fakeResolver{}, &recordingScheduler{}, false)

	err = svc.Check(context.Background(), in.ID, 1)
	if !errors.Is(err, retry.ErrPermanent) {
		t.Errorf("err = %v, want permanent", err)
	}
}

// vstsServer serves one hook subscription and records every PUT body.
type vstsServer struct {
	*httptest.Server
	mu     sync.Mutex
	status string
	code   int
	puts   []map[string]any
}

func newVSTSServer(t *testing.T, status string) *vstsServer {
	t.Helper()
	s := &vstsServer{status: status, code: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.URL.Path != "/_apis/hooks/subscriptions/S1" {
			http.NotFound(w, r)
			return
		}
		if s.code != http.StatusOK {
			w.WriteHeader(s.code)
			w.Write([]byte(`{"message":"service unavailable"}`))
			return
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"id": "S1", "status": s.status, "publisherId": "tfs"})
		case http.MethodPut:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			s.puts = append(s.puts, body)
			s.status, _ = body["status"].(string)
			json.NewEncoder(w).Encode(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *vstsServer) Puts() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.puts...)
}

// setupQueue wires the real VSTS provider and queue around the fixture.
func (f *fixture) setupQueue(t *testing.T) (*Service, *queue.Queue, *queue.FailureStore) {
	t.Helper()
	vsts := provider.NewVSTSClient(provider.ClientConfig{Token: "pat", Clock: f.clock, Logger: discardLogger()}, "")
	resolver := provider.NewDefaultResolver(f.store, provider.Config{VSTS: vsts})

	failures := queue.NewFailureStore(f.db)
	q := queue.New(queue.Config{Workers: 2, Clock: f.clock, Logger: discardLogger(), Failures: failures})
	t.Cleanup(q.Stop)

	svc := f.service(t, resolver, q, false)
	if err := Register(q, svc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return svc, q, failures
}

func drain(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestKickoffRenewsDisabledSubscription(t *testing.T) {
	f := setupFixture(t)
	server := newVSTSServer(t, provider.VSTSDisabledStatus)
	in := f.addIntegration(t, integrations.Metadata{
		DomainName:   server.URL + "/",
		Subscription: &integrations.Subscription{ID: "S1", Status: provider.VSTSDisabledStatus},
	}, 1)

	_, q, _ := f.setupQueue(t)
	q.Start()

	if err := q.Schedule(context.Background(), TaskKickoffCheck, KickoffArgs{Provider: integrations.ProviderVSTS}, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain(t, q)

	puts := server.Puts()
	if len(puts) != 1 {
		t.Fatalf("got %d PUTs, want 1", len(puts))
	}
	if puts[0]["status"] != "enabled" || puts[0]["publisherId"] != "tfs" {
		t.Errorf("PUT body = %v", puts[0])
	}

	got, err := f.store.Get(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sub := got.Metadata.Subscription
	if sub.Status != "enabled" {
		t.Errorf("Status = %q, want enabled", sub.Status)
	}
	if sub.Check == nil || !sub.Check.Equal(testNow) {
		t.Errorf("Check = %v, want %v", sub.Check, testNow)
	}

	// Within the interval the next kickoff selects nothing.
	f.clock.Advance(time.Hour)
	if err := q.Schedule(context.Background(), TaskKickoffCheck, KickoffArgs{Provider: integrations.ProviderVSTS}, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain(t, q)
	if n := len(server.Puts()); n != 1 {
		t.Errorf("got %d PUTs after second kickoff, want 1", n)
	}
}

func TestCheckAPIErrorIsNotRetried(t *testing.T) {
	f := setupFixture(t)
	server := newVSTSServer(t, provider.VSTSDisabledStatus)
	server.mu.Lock()
	server.code = http.StatusInternalServerError
	server.mu.Unlock()
	in := f.addIntegration(t, integrations.Metadata{
		DomainName:   server.URL,
		Subscription: &integrations.Subscription{ID: "S1"},
	}, 1)

	_, q, _ := f.setupQueue(t)

	err := q.Run(context.Background(), TaskCheck, CheckArgs{IntegrationID: in.ID, OrganizationID: 1})
	outcome, ok := queue.TerminalOutcome(err)
	if !ok || outcome != retry.Excluded {
		t.Errorf("outcome = %v (%v), want excluded", outcome, err)
	}
	if !errors.Is(err, provider.ErrAPI) {
		t.Errorf("err = %v, want ErrAPI", err)
	}
	if len(server.Puts()) != 0 {
		t.Error("subscription updated after failed fetch")
	}
}

func TestCheckUnreachableProviderIsNotRetried(t *testing.T) {
	f := setupFixture(t)
	server := newVSTSServer(t, provider.VSTSDisabledStatus)
	server.Close()
	in := f.addIntegration(t, integrations.Metadata{
		DomainName:   server.URL,
		Subscription: &integrations.Subscription{ID: "S1"},
	}, 1)

	svc, q, _ := f.setupQueue(t)

	err := svc.Check(context.Background(), in.ID, 1)
	if !errors.Is(err, provider.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if d := checkPolicy.Decide(err, 0); d.Outcome != retry.Excluded {
		t.Errorf("Decide = %v after %v, want excluded", d.Outcome, d.Delay)
	}

	err = q.Run(context.Background(), TaskCheck, CheckArgs{IntegrationID: in.ID, OrganizationID: 1})
	if outcome, ok := queue.TerminalOutcome(err); !ok || outcome != retry.Excluded {
		t.Errorf("outcome = %v (%v), want excluded", outcome, err)
	}

	got, err := f.store.Get(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.Subscription.Check != nil {
		t.Errorf("Check = %v, want unset", got.Metadata.Subscription.Check)
	}
}

func TestCheckMissingIntegrationIsExcluded(t *testing.T) {
	f := setupFixture(t)
	_, q, _ := f.setupQueue(t)

	err := q.Run(context.Background(), TaskCheck, CheckArgs{IntegrationID: 404, OrganizationID: 1})
	if outcome, ok := queue.TerminalOutcome(err); !ok || outcome != retry.Excluded {
		t.Errorf("outcome = %v (%v), want excluded", outcome, err)
	}
}

func TestScanRoute(t *testing.T) {
	f := setupFixture(t)
	never := f.addIntegration(t, subscription("S1", nil), 1)
	sched := &recordingScheduler{}
	svc := f.service(t, &fakeResolver{}, sched, false)

	r := chi.NewRouter()
	RegisterRoutes(r, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/vsts/scan", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result ScanResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Scheduled != 1 || sched.args[0].IntegrationID != never.ID {
		t.Errorf("result = %+v, scheduled = %v", result, sched.args)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/subscriptions/jira/scan", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", w.Code)
	}
}
