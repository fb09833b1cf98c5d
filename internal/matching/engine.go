package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/storage"
)

// maxMatchLimit caps the number of candidates scored and returned per call.
const maxMatchLimit = 50

// CandidateSource supplies the reference profile, the eligible candidate
// pool, and exclusion data. Implemented by storage.Store.
type CandidateSource interface {
	GetProfile(userID string) (storage.Profile, error)
	ListEligibleCandidates(viewerID string) ([]storage.Profile, error)
	ListExclusions(userID string) (map[string]struct{}, error)
}

// Match pairs a candidate profile with its score breakdown.
type Match struct {
	Profile storage.Profile
	Scored
}

// MatchResult is the output of one ranking pass. TotalAvailable counts
// eligible candidates before truncation to the requested limit;
// ExcludedCount is the size of the effective exclusion set.
type MatchResult struct {
	Matches        []Match
	TotalAvailable int
	ExcludedCount  int
}

// Engine ranks eligible study partners against a user's own profile.
// Calls are pure read-and-compute: any number may run in parallel.
type Engine struct {
	source CandidateSource
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given candidate source.
func NewEngine(source CandidateSource) *Engine {
	return &Engine{source: source, logger: slog.Default()}
}

// FindMatches scores every eligible candidate against userID's profile and
// returns the top `limit`, ranked by score descending with lastActive
// descending then id ascending as tie-breaks. Candidates in the effective
// exclusion set (prior likes/passes in either direction, plus excludeIDs)
// never appear in the result.
func (e *Engine) FindMatches(ctx context.Context, userID string, limit int, excludeIDs []string) (MatchResult, error) {
	if limit <= 0 {
		return MatchResult{}, fmt.Errorf("%w: limit must be positive, got %d", fault.ErrInvalidArgument, limit)
	}
	if limit > maxMatchLimit {
		limit = maxMatchLimit
	}
	if err := ctx.Err(); err != nil {
		return MatchResult{}, err
	}

	reference, err := e.source.GetProfile(userID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("loading reference profile for %s: %w", userID, err)
	}

	excluded, err := e.source.ListExclusions(userID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("loading exclusions: %w", err)
	}
	for _, id := range excludeIDs {
		if id != "" && id != userID {
			excluded[id] = struct{}{}
		}
	}

	candidates, err := e.source.ListEligibleCandidates(userID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("listing candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, candidate := range candidates {
		if _, skip := excluded[candidate.UserID]; skip {
			continue
		}
		matches = append(matches, Match{
			Profile: candidate,
			Scored:  ScoreAgainstProfile(candidate, reference),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Profile.LastActive.Equal(b.Profile.LastActive) {
			return a.Profile.LastActive.After(b.Profile.LastActive)
		}
		return a.Profile.UserID < b.Profile.UserID
	})

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	e.logger.Debug("ranking pass complete",
		"user", userID,
		"eligible", total,
		"excluded", len(excluded),
		"returned", len(matches),
	)

	return MatchResult{
		Matches:        matches,
		TotalAvailable: total,
		ExcludedCount:  len(excluded),
	}, nil
}
