package features

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

func setupTestService(t *testing.T, patterns map[string][]string) (*Service, *tracker.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	svc, err := NewService(database, patterns)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, tracker.NewStore(database)
}

func TestHasMatchesSlugPatterns(t *testing.T) {
	svc, _ := setupTestService(t, map[string][]string{
		"integrations-issue-sync": {"acme", "beta-*"},
	})
	ctx := context.Background()

	tests := []struct {
		slug string
		want bool
	}{
		{"acme", true},
		{"beta-corp", true},
		{"globex", false},
	}
	for _, tt := range tests {
		got, err := svc.Has(ctx, IssueSync, tracker.Organization{ID: 1, Slug: tt.slug})
		if err != nil {
			t.Fatalf("Has(%s): %v", tt.slug, err)
		}
		if got != tt.want {
			t.Errorf("Has(%s) = %v, want %v", tt.slug, got, tt.want)
		}
	}
}

func TestUnknownFlagIsOff(t *testing.T) {
	svc, _ := setupTestService(t, map[string][]string{IssueSync: {"*"}})

	got, err := svc.Has(context.Background(), "organizations:something-else", tracker.Organization{ID: 1, Slug: "acme"})
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if got {
		t.Error("unconfigured flag reported on")
	}
}

func TestOverrideWinsOverPatterns(t *testing.T) {
	svc, _ := setupTestService(t, map[string][]string{IssueSync: {"*"}})
	ctx := context.Background()
	org := tracker.Organization{ID: 4, Slug: "acme"}

	if err := svc.Override(ctx, IssueSync, org.ID, false); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got, _ := svc.Has(ctx, IssueSync, org); got {
		t.Error("override false ignored")
	}

	if err := svc.Override(ctx, "integrations-issue-sync", org.ID, true); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got, _ := svc.Has(ctx, IssueSync, org); !got {
		t.Error("override true ignored")
	}

	if err := svc.ClearOverride(ctx, IssueSync, org.ID); err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}
	if got, _ := svc.Has(ctx, IssueSync, org); !got {
		t.Error("pattern not applied after clearing override")
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer database.Close()

	if _, err := NewService(database, map[string][]string{IssueSync: {"[acme"}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestFlagRoutes(t *testing.T) {
	svc, orgs := setupTestService(t, nil)
	ctx := context.Background()
	org, err := orgs.CreateOrganization(ctx, tracker.Organization{Slug: "acme"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	r := chi.NewRouter()
	RegisterRoutes(r, svc, orgs)
	path := "/api/features/integrations-issue-sync/organizations/" + jsonNumber(org.ID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"enabled":true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var state flagState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.Enabled || state.Flag != IssueSync {
		t.Errorf("state = %+v", state)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features/integrations-issue-sync/organizations/999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing org status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
