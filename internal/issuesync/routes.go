package issuesync

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/queue"
)

type scheduledResponse struct {
	Task string `json:"task"`
	Args any    `json:"args"`
}

// RegisterRoutes mounts endpoints that schedule outbound syncs.
func RegisterRoutes(r chi.Router, scheduler queue.Scheduler) {
	r.Post("/api/groups/{id}/status-sync", handleKickoff(scheduler))
	r.Route("/api/external-issues/{id}", func(r chi.Router) {
		r.Post("/comments", handleComment(scheduler))
		r.Post("/assignee", handleAssignee(scheduler))
	})
	r.Post("/api/integrations/{id}/sync-metadata", handleSyncMetadata(scheduler))
}

func handleKickoff(scheduler queue.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := pathID(w, r)
		if !ok {
			return
		}
		var body struct {
			ProjectID int64 `json:"project_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectID == 0 {
			http.Error(w, "project_id is required", http.StatusBadRequest)
			return
		}
		schedule(w, r, scheduler, TaskKickOffStatusSyncs, KickoffArgs{ProjectID: body.ProjectID, GroupID: groupID})
	}
}

func handleComment(scheduler queue.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID, ok := pathID(w, r)
		if !ok {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		schedule(w, r, scheduler, TaskPostComment, CommentArgs{ExternalIssueID: issueID, Text: body.Text})
	}
}

func handleAssignee(scheduler queue.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID, ok := pathID(w, r)
		if !ok {
			return
		}
		var body struct {
			UserID *int64 `json:"user_id"`
			Assign bool   `json:"assign"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		schedule(w, r, scheduler, TaskSyncAssigneeOutbound, AssigneeArgs{
			ExternalIssueID: issueID,
			UserID:          body.UserID,
			Assign:          body.Assign,
		})
	}
}

func handleSyncMetadata(scheduler queue.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integrationID, ok := pathID(w, r)
		if !ok {
			return
		}
		schedule(w, r, scheduler, TaskSyncMetadata, MetadataArgs{IntegrationID: integrationID})
	}
}

func schedule(w http.ResponseWriter, r *http.Request, scheduler queue.Scheduler, name string, args any) {
	if err := scheduler.Schedule(r.Context(), name, args, 0); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, scheduledResponse{Task: name, Args: args})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
