package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/studycircle/studycircle/internal/storage"
)

const defaultMatchLimit = 10

type matchEntry struct {
	UserID          string   `json:"user_id"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	University      string   `json:"university"`
	Major           string   `json:"major"`
	Year            int      `json:"year"`
	Bio             string   `json:"bio"`
	Interests       []string `json:"interests"`
	Score           int      `json:"score"`
	Reasoning       string   `json:"reasoning"`
	MatchedCriteria []string `json:"matched_criteria"`
}

func handleFindMatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultMatchLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		var excludeIDs []string
		if raw := r.URL.Query().Get("exclude"); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					excludeIDs = append(excludeIDs, id)
				}
			}
		}

		result, err := deps.Engine.FindMatches(r.Context(), callerID(r), limit, excludeIDs)
		if err != nil {
			faultError(w, err)
			return
		}

		entries := make([]matchEntry, 0, len(result.Matches))
		for _, m := range result.Matches {
			entries = append(entries, matchEntry{
				UserID:          m.Profile.UserID,
				FirstName:       m.Profile.FirstName,
				LastName:        m.Profile.LastName,
				University:      m.Profile.University,
				Major:           m.Profile.Major,
				Year:            m.Profile.Year,
				Bio:             m.Profile.Bio,
				Interests:       m.Profile.Interests,
				Score:           m.Score,
				Reasoning:       m.Reasoning,
				MatchedCriteria: m.MatchedCriteria,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"matches":         entries,
			"total_available": result.TotalAvailable,
			"excluded_count":  result.ExcludedCount,
		})
	}
}

func handleQueryUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		candidates, err := deps.Store.ListEligibleCandidates(callerID(r))
		if err != nil {
			faultError(w, err)
			return
		}

		result, err := deps.Query.QueryUsers(r.Context(), req.Query, candidates)
		if err != nil {
			faultError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"extracted_criteria": result.Criteria,
			"scored_users":       result.Scored,
			"truncated_count":    result.TruncatedCount,
		})
	}
}

func handleSaveDecision(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			RecipientID string `json:"recipient_id"`
			Liked       bool   `json:"liked"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.RecipientID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "recipient_id is required")
			return
		}
		if req.RecipientID == callerID(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "cannot decide on yourself")
			return
		}

		if err := deps.Store.SaveDecision(callerID(r), req.RecipientID, req.Liked); err != nil {
			faultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// handleUpsertProfile is thin glue so the candidate repository has a write
// path; the full profile web app lives outside this service.
func handleUpsertProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			FirstName        string   `json:"first_name"`
			LastName         string   `json:"last_name"`
			University       string   `json:"university"`
			Major            string   `json:"major"`
			Year             int      `json:"year"`
			Bio              string   `json:"bio"`
			Interests        []string `json:"interests"`
			Skills           []string `json:"skills"`
			StudyGoals       []string `json:"study_goals"`
			StudyTimes       []string `json:"study_times"`
			Languages        []string `json:"languages"`
			GPA              *float64 `json:"gpa"`
			SubscriptionTier string   `json:"subscription_tier"`
			Public           *bool    `json:"public"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		public := true
		if req.Public != nil {
			public = *req.Public
		}
		tier := req.SubscriptionTier
		if tier == "" {
			tier = "free"
		}

		profile := storage.Profile{
			UserID:           callerID(r),
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			University:       req.University,
			Major:            req.Major,
			Year:             req.Year,
			Bio:              req.Bio,
			Interests:        req.Interests,
			Skills:           req.Skills,
			StudyGoals:       req.StudyGoals,
			StudyTimes:       req.StudyTimes,
			Languages:        req.Languages,
			GPA:              req.GPA,
			SubscriptionTier: tier,
			Status:           "active",
			Public:           public,
		}
		if err := deps.Store.UpsertProfile(profile); err != nil {
			faultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}
