package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/studycircle/studycircle/internal/agent"
)

// handleChat runs one turn and streams its events as server-sent frames:
// one JSON object per `data:` frame, terminated by a `data: [DONE]`
// sentinel. The client closing the connection is the cancellation signal;
// it propagates through r.Context() into the orchestrator's generation
// suspension point.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ThreadID string `json:"thread_id"`
			Message  string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		// Headers are written lazily so pre-stream failures (validation,
		// busy thread) can still return a plain JSON status.
		started := false
		emit := func(ev agent.Event) error {
			if !started {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				started = true
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		_, err := deps.Orchestrator.Run(r.Context(), agent.TurnRequest{
			UserID:   callerID(r),
			ThreadID: req.ThreadID,
			Message:  req.Message,
		}, emit)

		if err != nil && !started {
			faultError(w, err)
			return
		}
		if started {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}
}
