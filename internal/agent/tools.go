package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/studycircle/studycircle/internal/matching"
	"github.com/studycircle/studycircle/internal/oracle"
	"github.com/studycircle/studycircle/internal/storage"
)

// MatchFinder abstracts the matching engine for the find_partners tool.
type MatchFinder interface {
	FindMatches(ctx context.Context, userID string, limit int, excludeIDs []string) (matching.MatchResult, error)
}

// ProfileGetter abstracts profile reads for the my_profile tool.
type ProfileGetter interface {
	GetProfile(userID string) (storage.Profile, error)
}

// MaterialSearcher abstracts material search for the search_materials tool.
type MaterialSearcher interface {
	SearchMaterials(ownerID, query string, limit int) ([]storage.Material, error)
}

// RegisterBuiltins wires the built-in study-partner tools into a registry.
func RegisterBuiltins(r *Registry, finder MatchFinder, profiles ProfileGetter, materials MaterialSearcher) {
	r.Register(&findPartnersTool{finder: finder})
	r.Register(&myProfileTool{profiles: profiles})
	r.Register(&searchMaterialsTool{materials: materials})
}

// --- find_partners ---

type findPartnersTool struct {
	finder MatchFinder
}

func (t *findPartnersTool) Name() string { return "find_partners" }

func (t *findPartnersTool) Description() string {
	return "Rank the user's best study-partner candidates by profile compatibility and return the top matches with reasoning."
}

func (t *findPartnersTool) Params() (map[string]oracle.ParamSpec, []string) {
	return map[string]oracle.ParamSpec{
		"limit": {Type: "integer", Description: "Maximum number of partners to return (default 5)"},
	}, nil
}

func (t *findPartnersTool) Call(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var params struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("parsing arguments: %w", err)
		}
	}
	if params.Limit <= 0 {
		params.Limit = 5
	}

	result, err := t.finder.FindMatches(ctx, userID, params.Limit, nil)
	if err != nil {
		return "", err
	}

	type entry struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		University string   `json:"university"`
		Major      string   `json:"major"`
		Score      int      `json:"score"`
		Reasoning  string   `json:"reasoning"`
		Matched    []string `json:"matched_criteria"`
	}
	entries := make([]entry, 0, len(result.Matches))
	for _, m := range result.Matches {
		entries = append(entries, entry{
			ID:         m.Profile.UserID,
			Name:       strings.TrimSpace(m.Profile.FirstName + " " + m.Profile.LastName),
			University: m.Profile.University,
			Major:      m.Profile.Major,
			Score:      m.Score,
			Reasoning:  m.Reasoning,
			Matched:    m.MatchedCriteria,
		})
	}

	out, err := json.Marshal(map[string]any{
		"matches":         entries,
		"total_available": result.TotalAvailable,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling matches: %w", err)
	}
	return string(out), nil
}

// --- my_profile ---

type myProfileTool struct {
	profiles ProfileGetter
}

func (t *myProfileTool) Name() string { return "my_profile" }

func (t *myProfileTool) Description() string {
	return "Fetch the current user's own study profile: university, major, interests, skills, goals, and preferred study times."
}

func (t *myProfileTool) Params() (map[string]oracle.ParamSpec, []string) {
	return map[string]oracle.ParamSpec{}, nil
}

func (t *myProfileTool) Call(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
	p, err := t.profiles.GetProfile(userID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]any{
		"name":        strings.TrimSpace(p.FirstName + " " + p.LastName),
		"university":  p.University,
		"major":       p.Major,
		"year":        p.Year,
		"bio":         p.Bio,
		"interests":   p.Interests,
		"skills":      p.Skills,
		"study_goals": p.StudyGoals,
		"study_times": p.StudyTimes,
		"languages":   p.Languages,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling profile: %w", err)
	}
	return string(out), nil
}

// --- search_materials ---

type searchMaterialsTool struct {
	materials MaterialSearcher
}

func (t *searchMaterialsTool) Name() string { return "search_materials" }

func (t *searchMaterialsTool) Description() string {
	return "Search the user's ingested study materials (syllabi, notes) by keyword and return matching excerpts."
}

func (t *searchMaterialsTool) Params() (map[string]oracle.ParamSpec, []string) {
	return map[string]oracle.ParamSpec{
		"query": {Type: "string", Description: "Keyword or phrase to search for"},
	}, []string{"query"}
}

const materialExcerptLen = 500

func (t *searchMaterialsTool) Call(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	found, err := t.materials.SearchMaterials(userID, params.Query, 5)
	if err != nil {
		return "", err
	}

	type entry struct {
		Title   string `json:"title"`
		Source  string `json:"source"`
		Excerpt string `json:"excerpt"`
	}
	entries := make([]entry, 0, len(found))
	for _, m := range found {
		excerpt := m.Content
		if len(excerpt) > materialExcerptLen {
			excerpt = excerpt[:materialExcerptLen] + "…"
		}
		entries = append(entries, entry{Title: m.Title, Source: m.Source, Excerpt: excerpt})
	}

	out, err := json.Marshal(map[string]any{"materials": entries})
	if err != nil {
		return "", fmt.Errorf("marshalling materials: %w", err)
	}
	return string(out), nil
}
