package features

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// OrganizationLookup loads the organization a flag is evaluated for.
type OrganizationLookup interface {
	GetOrganization(ctx context.Context, id int64) (*tracker.Organization, error)
}

type flagState struct {
	Flag           string `json:"flag"`
	OrganizationID int64  `json:"organization_id"`
	Enabled        bool   `json:"enabled"`
}

// RegisterRoutes mounts the flag endpoints under /api/features.
func RegisterRoutes(r chi.Router, svc *Service, orgs OrganizationLookup) {
	r.Route("/api/features/{flag}/organizations/{id}", func(r chi.Router) {
		r.Get("/", handleGet(svc, orgs))
		r.Put("/", handlePut(svc, orgs))
		r.Delete("/", handleDelete(svc))
	})
}

func handleGet(svc *Service, orgs OrganizationLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := loadOrganization(w, r, orgs)
		if !ok {
			return
		}
		flag := qualify(chi.URLParam(r, "flag"))
		enabled, err := svc.Has(r.Context(), flag, *org)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, flagState{Flag: flag, OrganizationID: org.ID, Enabled: enabled})
	}
}

func handlePut(svc *Service, orgs OrganizationLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := loadOrganization(w, r, orgs)
		if !ok {
			return
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
			return
		}
		flag := qualify(chi.URLParam(r, "flag"))
		if err := svc.Override(r.Context(), flag, org.ID, *body.Enabled); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, flagState{Flag: flag, OrganizationID: org.ID, Enabled: *body.Enabled})
	}
}

func handleDelete(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid organization id", http.StatusBadRequest)
			return
		}
		if err := svc.ClearOverride(r.Context(), chi.URLParam(r, "flag"), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func loadOrganization(w http.ResponseWriter, r *http.Request, orgs OrganizationLookup) (*tracker.Organization, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid organization id", http.StatusBadRequest)
		return nil, false
	}
	org, err := orgs.GetOrganization(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return org, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
