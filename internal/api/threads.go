package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studycircle/studycircle/internal/storage"
)

type threadView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageView struct {
	ID            string               `json:"id"`
	Role          string               `json:"role"`
	Content       string               `json:"content"`
	ToolCalls     []storage.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults   []storage.ToolResult `json:"tool_results,omitempty"`
	Partial       bool                 `json:"partial,omitempty"`
	FeedbackScore int                  `json:"feedback_score,omitempty"`
	FeedbackText  string               `json:"feedback_text,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := deps.Orchestrator.ListThreads(callerID(r), 0)
		if err != nil {
			faultError(w, err)
			return
		}
		views := make([]threadView, 0, len(threads))
		for _, t := range threads {
			views = append(views, threadView{
				ID: t.ID, Title: t.Title, IsActive: t.IsActive,
				CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": views})
	}
}

func handleThreadMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		messages, err := deps.Orchestrator.ThreadMessages(callerID(r), threadID)
		if err != nil {
			faultError(w, err)
			return
		}
		views := make([]messageView, 0, len(messages))
		for _, m := range messages {
			views = append(views, messageView{
				ID: m.ID, Role: m.Role, Content: m.Content,
				ToolCalls: m.ToolCalls, ToolResults: m.ToolResults,
				Partial: m.Partial, FeedbackScore: m.FeedbackScore,
				FeedbackText: m.FeedbackText, CreatedAt: m.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": views})
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		if err := deps.Orchestrator.DeleteThread(callerID(r), threadID); err != nil {
			faultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Score int    `json:"score"`
			Text  string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Orchestrator.SubmitFeedback(
			callerID(r),
			chi.URLParam(r, "id"),
			chi.URLParam(r, "messageID"),
			req.Score,
			req.Text,
		)
		if err != nil {
			faultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
