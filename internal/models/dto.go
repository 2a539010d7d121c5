package models

// OverrideRequest replaces one question's score; totals are re-derived.
type OverrideRequest struct {
	PointsEarned float64 `json:"points_earned"`
	Feedback     string  `json:"feedback,omitempty"`
}

type GradeListResponse struct {
	Grades []GradeResult `json:"grades"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
