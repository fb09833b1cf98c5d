package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/storage"
)

const (
	// maxQueryCandidates bounds scoring cost per call. Excess candidates are
	// silently dropped and reported via TruncatedCount, not an error.
	maxQueryCandidates = 500

	scoringConcurrency = 4
)

// Extractor turns a free-text query into structured criteria via the AI
// oracle. Implemented by oracle clients; stubbed in tests.
type Extractor interface {
	ExtractCriteria(ctx context.Context, text string) (Criteria, error)
}

// QueryResult is the output of one free-text search pass.
type QueryResult struct {
	Criteria       Criteria
	Scored         []Scored
	TruncatedCount int
}

// QueryService answers natural-language partner searches: criteria
// extraction through the oracle followed by deterministic facet scoring.
type QueryService struct {
	extractor Extractor
	logger    *slog.Logger
}

// NewQueryService creates a QueryService using the given extractor.
func NewQueryService(extractor Extractor) *QueryService {
	return &QueryService{extractor: extractor, logger: slog.Default()}
}

// QueryUsers extracts criteria from queryText and scores every candidate
// against them. There is no degraded path: if extraction fails the whole
// call fails, so an unranked dump is never presented as a match list.
// Results are ordered score descending, ties broken by candidate id
// ascending.
func (q *QueryService) QueryUsers(ctx context.Context, queryText string, candidates []storage.Profile) (QueryResult, error) {
	if strings.TrimSpace(queryText) == "" {
		return QueryResult{}, fmt.Errorf("%w: query text must not be empty", fault.ErrInvalidArgument)
	}

	criteria, err := q.extractor.ExtractCriteria(ctx, queryText)
	if err != nil {
		return QueryResult{}, fmt.Errorf("extracting criteria: %w", err)
	}

	truncated := 0
	if len(candidates) > maxQueryCandidates {
		truncated = len(candidates) - maxQueryCandidates
		candidates = candidates[:maxQueryCandidates]
	}

	scored := make([]Scored, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			scored[i] = ScoreAgainstCriteria(candidate, criteria)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return QueryResult{}, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CandidateID < scored[j].CandidateID
	})

	q.logger.Debug("query pass complete",
		"candidates", len(candidates),
		"truncated", truncated,
		"criteria_empty", criteria.IsZero(),
	)

	return QueryResult{
		Criteria:       criteria,
		Scored:         scored,
		TruncatedCount: truncated,
	}, nil
}
