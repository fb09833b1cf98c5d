package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/storage"
)

// stubExtractor returns canned criteria or a canned error.
type stubExtractor struct {
	criteria Criteria
	err      error
	calls    int
}

func (s *stubExtractor) ExtractCriteria(ctx context.Context, text string) (Criteria, error) {
	s.calls++
	if s.err != nil {
		return Criteria{}, s.err
	}
	return s.criteria, nil
}

func TestQueryUsers_OrdersByScoreThenID(t *testing.T) {
	extractor := &stubExtractor{criteria: Criteria{Major: "computer"}}
	q := NewQueryService(extractor)

	match1 := profileWith("zeta", nil)
	match2 := profileWith("alpha", nil)
	miss := profileWith("miss", func(p *storage.Profile) { p.Major = "History" })

	result, err := q.QueryUsers(context.Background(), "find me CS partners", []storage.Profile{match1, miss, match2})
	if err != nil {
		t.Fatalf("QueryUsers: %v", err)
	}

	if len(result.Scored) != 3 {
		t.Fatalf("scored %d candidates, want 3", len(result.Scored))
	}
	// Equal scores tie-break by candidate id ascending.
	if result.Scored[0].CandidateID != "alpha" || result.Scored[1].CandidateID != "zeta" {
		t.Errorf("order = %v, %v; want alpha then zeta", result.Scored[0].CandidateID, result.Scored[1].CandidateID)
	}
	if result.Scored[2].CandidateID != "miss" || result.Scored[2].Score != 0 {
		t.Errorf("last = %+v, want miss with score 0", result.Scored[2])
	}
	if result.Criteria.Major != "computer" {
		t.Errorf("criteria not propagated: %+v", result.Criteria)
	}
}

func TestQueryUsers_BlankQuery(t *testing.T) {
	extractor := &stubExtractor{}
	q := NewQueryService(extractor)

	for _, query := range []string{"", "   ", "\n\t"} {
		_, err := q.QueryUsers(context.Background(), query, nil)
		if !errors.Is(err, fault.ErrInvalidArgument) {
			t.Errorf("query %q: err = %v, want ErrInvalidArgument", query, err)
		}
	}
	if extractor.calls != 0 {
		t.Errorf("extractor called %d times for blank queries, want 0", extractor.calls)
	}
}

func TestQueryUsers_ExtractionFailureIsFatal(t *testing.T) {
	extractor := &stubExtractor{err: fmt.Errorf("%w: model unavailable", fault.ErrOracle)}
	q := NewQueryService(extractor)

	_, err := q.QueryUsers(context.Background(), "night owls", []storage.Profile{profileWith("a", nil)})
	if !errors.Is(err, fault.ErrOracle) {
		t.Errorf("err = %v, want ErrOracle (no unranked fallback)", err)
	}
}

func TestQueryUsers_Truncation(t *testing.T) {
	extractor := &stubExtractor{criteria: Criteria{Major: "cs"}}
	q := NewQueryService(extractor)

	candidates := make([]storage.Profile, maxQueryCandidates+25)
	for i := range candidates {
		candidates[i] = profileWith(fmt.Sprintf("user-%04d", i), nil)
	}

	result, err := q.QueryUsers(context.Background(), "cs partners", candidates)
	if err != nil {
		t.Fatalf("QueryUsers: %v", err)
	}
	if len(result.Scored) != maxQueryCandidates {
		t.Errorf("scored %d, want %d", len(result.Scored), maxQueryCandidates)
	}
	if result.TruncatedCount != 25 {
		t.Errorf("TruncatedCount = %d, want 25", result.TruncatedCount)
	}
}
