package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/studycircle/studycircle/internal/storage"
)

// Scored is one ranked candidate: a 0–100 score, a human-readable reasoning
// line, and the ordered list of facets that contributed a non-zero bonus.
// Scoring is deterministic: the same (profile, criteria) pair always yields
// the same result.
type Scored struct {
	CandidateID     string   `json:"candidate_id"`
	Score           int      `json:"score"`
	Reasoning       string   `json:"reasoning"`
	MatchedCriteria []string `json:"matched_criteria"`
}

// Facet weights for profile-vs-profile scoring. Fixed bonuses for shared
// university/major, Jaccard-proportional for the set facets. Sums to 100.
const (
	profileUniversityBonus = 15
	profileMajorBonus      = 20
	profileInterestsWeight = 25
	profileSkillsWeight    = 15
	profileGoalsWeight     = 15
	profileTimeWeight      = 10
)

// ScoreAgainstProfile scores a candidate against a reference profile using
// weighted facet overlap.
func ScoreAgainstProfile(candidate, reference storage.Profile) Scored {
	var total float64
	var matched []string
	var reasons []string

	if equalFold(candidate.University, reference.University) {
		total += profileUniversityBonus
		matched = append(matched, FacetUniversity)
		reasons = append(reasons, "same university")
	}
	if equalFold(candidate.Major, reference.Major) {
		total += profileMajorBonus
		matched = append(matched, FacetMajor)
		reasons = append(reasons, "same major")
	}

	for _, f := range []struct {
		facet  string
		weight float64
		a, b   []string
		label  string
	}{
		{FacetInterests, profileInterestsWeight, candidate.Interests, reference.Interests, "shared interests"},
		{FacetSkills, profileSkillsWeight, candidate.Skills, reference.Skills, "complementary skills"},
		{FacetStudyGoals, profileGoalsWeight, candidate.StudyGoals, reference.StudyGoals, "aligned study goals"},
		{FacetStudyTime, profileTimeWeight, candidate.StudyTimes, reference.StudyTimes, "overlapping study times"},
	} {
		if j := jaccard(f.a, f.b); j > 0 {
			total += f.weight * j
			matched = append(matched, f.facet)
			reasons = append(reasons, fmt.Sprintf("%s (%.0f%% overlap)", f.label, j*100))
		}
	}

	return Scored{
		CandidateID:     candidate.UserID,
		Score:           clampScore(total),
		Reasoning:       buildReasoning(candidate, reasons),
		MatchedCriteria: matched,
	}
}

// Facet weights for criteria-vs-profile scoring. Set facets score by the
// Jaccard similarity between the requested values and the candidate's.
// Threshold facets (minGpa, minRating) grant a fixed bonus when satisfied;
// they never reject a candidate outright. Sums to 100.
const (
	criteriaUniversityBonus = 15
	criteriaMajorBonus      = 20
	criteriaInterestsWeight = 20
	criteriaSkillsWeight    = 15
	criteriaGoalsWeight     = 10
	criteriaTimeWeight      = 5
	criteriaGPABonus        = 5
	criteriaRatingBonus     = 5
	criteriaFreeTextWeight  = 5
)

// ScoreAgainstCriteria scores a candidate against extracted or client-supplied
// search criteria. Absent facets contribute nothing and constrain nothing.
func ScoreAgainstCriteria(candidate storage.Profile, c Criteria) Scored {
	var total float64
	var matched []string
	var reasons []string

	if c.University != "" && containsFold(candidate.University, c.University) {
		total += criteriaUniversityBonus
		matched = append(matched, FacetUniversity)
		reasons = append(reasons, "university matches "+c.University)
	}
	if c.Major != "" && containsFold(candidate.Major, c.Major) {
		total += criteriaMajorBonus
		matched = append(matched, FacetMajor)
		reasons = append(reasons, "major matches "+c.Major)
	}

	for _, f := range []struct {
		facet     string
		weight    float64
		requested []string
		have      []string
		label     string
	}{
		{FacetInterests, criteriaInterestsWeight, c.Interests, candidate.Interests, "interests"},
		{FacetSkills, criteriaSkillsWeight, c.Skills, candidate.Skills, "skills"},
		{FacetStudyGoals, criteriaGoalsWeight, c.StudyGoals, candidate.StudyGoals, "study goals"},
		{FacetStudyTime, criteriaTimeWeight, c.StudyTimes, candidate.StudyTimes, "study times"},
	} {
		if len(f.requested) == 0 {
			continue
		}
		if j := jaccard(f.requested, f.have); j > 0 {
			total += f.weight * j
			matched = append(matched, f.facet)
			reasons = append(reasons, fmt.Sprintf("%s overlap %.0f%%", f.label, j*100))
		}
	}

	if c.MinGPA != nil && candidate.GPA != nil && *candidate.GPA >= *c.MinGPA {
		total += criteriaGPABonus
		matched = append(matched, FacetMinGPA)
		reasons = append(reasons, fmt.Sprintf("GPA %.2f meets minimum %.2f", *candidate.GPA, *c.MinGPA))
	}
	if c.MinRating != nil && candidate.AvgRating >= *c.MinRating {
		total += criteriaRatingBonus
		matched = append(matched, FacetMinRating)
		reasons = append(reasons, fmt.Sprintf("rating %.1f meets minimum %.1f", candidate.AvgRating, *c.MinRating))
	}

	if c.FreeText != "" {
		if rel := freeTextRelevance(c.FreeText, candidate); rel > 0 {
			total += criteriaFreeTextWeight * rel
			matched = append(matched, FacetFreeText)
			reasons = append(reasons, fmt.Sprintf("bio relevance %.0f%%", rel*100))
		}
	}

	return Scored{
		CandidateID:     candidate.UserID,
		Score:           clampScore(total),
		Reasoning:       buildReasoning(candidate, reasons),
		MatchedCriteria: matched,
	}
}

// jaccard computes |A∩B| / |A∪B| over case-insensitive, trimmed string sets.
// Empty sets yield 0.
func jaccard(a, b []string) float64 {
	setA := normalizeSet(a)
	setB := normalizeSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// freeTextRelevance returns the fraction of query terms found in the
// candidate's bio or interests. Terms shorter than 3 runes are skipped as
// stop-word noise.
func freeTextRelevance(query string, candidate storage.Profile) float64 {
	haystack := strings.ToLower(candidate.Bio + " " + strings.Join(candidate.Interests, " "))
	terms := strings.Fields(strings.ToLower(query))
	considered, hits := 0, 0
	for _, term := range terms {
		if len([]rune(term)) < 3 {
			continue
		}
		considered++
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(hits) / float64(considered)
}

func normalizeSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func equalFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

func clampScore(total float64) int {
	score := int(math.Round(total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func buildReasoning(candidate storage.Profile, reasons []string) string {
	name := strings.TrimSpace(candidate.FirstName + " " + candidate.LastName)
	if name == "" {
		name = candidate.UserID
	}
	if len(reasons) == 0 {
		return name + ": no overlapping facets"
	}
	return name + ": " + strings.Join(reasons, ", ")
}
