package subscriptions

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the manual scan endpoint.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/api/subscriptions/{provider}/scan", handleScan(svc))
}

func handleScan(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Scan(r.Context(), chi.URLParam(r, "provider"), nil)
		if errors.Is(err, ErrUnknownProvider) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(result)
	}
}
