package matching

// Facet names reported in MatchedCriteria, in scoring order.
const (
	FacetUniversity = "university"
	FacetMajor      = "major"
	FacetInterests  = "interests"
	FacetSkills     = "skills"
	FacetStudyGoals = "studyGoals"
	FacetStudyTime  = "studyTime"
	FacetMinGPA     = "minGpa"
	FacetMinRating  = "minRating"
	FacetFreeText   = "freeText"
)

// Criteria is a structured search query over profile facets, produced either
// from a client filter or from AI extraction of a natural-language query.
// A zero-valued facet means "no constraint on this facet", never "reject all".
type Criteria struct {
	University string   `json:"university,omitempty"`
	Major      string   `json:"major,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	StudyGoals []string `json:"study_goals,omitempty"`
	StudyTimes []string `json:"study_times,omitempty"`
	MinGPA     *float64 `json:"min_gpa,omitempty"`
	MinRating  *float64 `json:"min_rating,omitempty"`
	FreeText   string   `json:"free_text,omitempty"`
}

// IsZero reports whether no facet carries a constraint.
func (c Criteria) IsZero() bool {
	return c.University == "" && c.Major == "" &&
		len(c.Interests) == 0 && len(c.Skills) == 0 &&
		len(c.StudyGoals) == 0 && len(c.StudyTimes) == 0 &&
		c.MinGPA == nil && c.MinRating == nil && c.FreeText == ""
}
