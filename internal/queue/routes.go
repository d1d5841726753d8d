package queue

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type taskInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MaxRetries  int      `json:"max_retries"`
	Delay       string   `json:"delay"`
	RetryOn     []string `json:"retry_on,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
}

// RegisterRoutes mounts task introspection endpoints under /api/tasks.
func RegisterRoutes(r chi.Router, q *Queue, failures *FailureStore) {
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", handleListTasks(q))
		r.Get("/failures", handleListFailures(failures))
	})
}

func handleListTasks(q *Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks := q.Tasks()
		out := make([]taskInfo, 0, len(tasks))
		for _, t := range tasks {
			info := taskInfo{
				Name:        t.Name,
				Description: t.Description,
				MaxRetries:  t.Policy.MaxRetries,
				Delay:       t.Policy.Delay.String(),
			}
			for _, e := range t.Policy.On {
				info.RetryOn = append(info.RetryOn, e.Error())
			}
			for _, e := range t.Policy.Exclude {
				info.Exclude = append(info.Exclude, e.Error())
			}
			out = append(out, info)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListFailures(store *FailureStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		failures, err := store.List(r.Context(), r.URL.Query().Get("task"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if failures == nil {
			failures = []Failure{}
		}
		writeJSON(w, http.StatusOK, failures)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
