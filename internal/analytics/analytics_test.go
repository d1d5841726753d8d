package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestRecordGeneratesID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Record(ctx, Event{Name: EventCommentSynced, Provider: "vsts", IntegrationID: 3, OrganizationID: 1})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Error("expected generated ID")
	}
	if events[0].Provider != "vsts" || events[0].IntegrationID != 3 {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("expected created_at")
	}
}

func TestListFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, e := range []Event{
		{Name: EventCommentSynced, OrganizationID: 1},
		{Name: EventStatusSynced, OrganizationID: 1},
		{Name: EventStatusSynced, OrganizationID: 2},
		{Name: EventAssigneeSynced, OrganizationID: 2},
	} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   int
	}{
		{"all", ListFilter{}, 4},
		{"by name", ListFilter{Name: EventStatusSynced}, 2},
		{"by org", ListFilter{OrganizationID: 2}, 2},
		{"name and org", ListFilter{Name: EventStatusSynced, OrganizationID: 1}, 1},
		{"limit", ListFilter{Limit: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestListRoute(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	store.Record(ctx, Event{Name: EventCommentSynced, OrganizationID: 5})
	store.Record(ctx, Event{Name: EventAssigneeSynced, OrganizationID: 6})

	r := chi.NewRouter()
	RegisterRoutes(r, store)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics?organization_id=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var events []Event
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Name != EventCommentSynced {
		t.Errorf("events = %+v", events)
	}
}
