package models

type QuestionType string

const (
	QuestionSingleSelect QuestionType = "single_select"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionFreeText     QuestionType = "free_text"
	QuestionFileUpload   QuestionType = "file_upload"
)

// AutoGradable reports whether this question type can be scored without a
// human in the loop.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case QuestionSingleSelect, QuestionMultiSelect, QuestionTrueFalse:
		return true
	default:
		return false
	}
}

// Question as served by the assessment service. CorrectAnswer is a string
// for single_select, a list of strings for multi_select and a bool (or its
// textual form) for true_false.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	CorrectAnswer interface{}  `json:"correct_answer"`
	Points        float64      `json:"points"`
}

type MCQScoringType string

const (
	ScoringStandard        MCQScoringType = "standard"
	ScoringPartialCredit   MCQScoringType = "partial_credit"
	ScoringNegativeMarking MCQScoringType = "negative_marking"
)

// GradingConfig is defined once per assessment. Absent fields fall back to
// the defaults: standard scoring, partial credit allowed, feedback shown.
type GradingConfig struct {
	AllowPartialCredit    *bool          `json:"allow_partial_credit,omitempty"`
	MCQScoringType        MCQScoringType `json:"mcq_scoring_type,omitempty"`
	PenaltyPerWrongAnswer *float64       `json:"penalty_per_wrong_answer,omitempty"`
	ShowFeedback          *bool          `json:"show_feedback,omitempty"`
	ShowCorrectAnswers    bool           `json:"show_correct_answers,omitempty"`
}

func (c GradingConfig) PartialCreditAllowed() bool {
	if c.AllowPartialCredit == nil {
		return true
	}
	return *c.AllowPartialCredit
}

func (c GradingConfig) ScoringType() MCQScoringType {
	if c.MCQScoringType == "" {
		return ScoringStandard
	}
	return c.MCQScoringType
}

func (c GradingConfig) Penalty() float64 {
	if c.PenaltyPerWrongAnswer == nil {
		return 0
	}
	return *c.PenaltyPerWrongAnswer
}

func (c GradingConfig) FeedbackEnabled() bool {
	if c.ShowFeedback == nil {
		return true
	}
	return *c.ShowFeedback
}
