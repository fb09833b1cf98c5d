// Package api exposes the matching engine and the agent orchestrator over
// HTTP. All business rules live below this layer; handlers validate shape,
// resolve the caller, and map faults to status codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studycircle/studycircle/internal/agent"
	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/matching"
	"github.com/studycircle/studycircle/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Store        *storage.Store
	Engine       *matching.Engine
	Query        *matching.QueryService
	Orchestrator *agent.Orchestrator
	Token        string
	HTTPClient   *http.Client // outbound fetches for URL material ingest
}

// NewHandler returns the service's HTTP handler. Every route except /health
// requires the bearer token and an X-User-ID caller identity (real
// authentication terminates at the gateway in front of this service).
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireUser)

		r.Get("/v1/matches", handleFindMatches(deps))
		r.Post("/v1/matches/query", handleQueryUsers(deps))
		r.Post("/v1/decisions", handleSaveDecision(deps))
		r.Put("/v1/profile", handleUpsertProfile(deps))

		r.Post("/v1/chat", handleChat(deps))
		r.Get("/v1/threads", handleListThreads(deps))
		r.Get("/v1/threads/{id}/messages", handleThreadMessages(deps))
		r.Delete("/v1/threads/{id}", handleDeleteThread(deps))
		r.Post("/v1/threads/{id}/messages/{messageID}/feedback", handleFeedback(deps))

		r.Post("/v1/materials", handleIngestMaterial(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// faultError maps the fault taxonomy to HTTP statuses. Unclassified errors
// surface as opaque 500s.
func faultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrInvalidArgument):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, fault.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, fault.ErrPermissionDenied):
		httpError(w, http.StatusForbidden, "permission_denied", "%v", err)
	case errors.Is(err, fault.ErrThreadBusy):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, fault.ErrOracle):
		httpError(w, http.StatusBadGateway, "oracle_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}
