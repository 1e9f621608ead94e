package domain

import (
	"time"
)

// QuestionType selects how a submitted value is compared to the answer key.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionNumeric        QuestionType = "numeric"
	QuestionText           QuestionType = "text"
)

// NumericAnswer is the answer key of a numeric question.
type NumericAnswer struct {
	CorrectAnswer float64 `json:"correctAnswer"`
	Tolerance     float64 `json:"tolerance"`
	Unit          string  `json:"unit,omitempty"`
}

// Question is the content-store representation including the answer key.
type Question struct {
	UID            string         `json:"uid"`
	Title          string         `json:"title,omitempty"`
	Text           string         `json:"text"`
	Type           QuestionType   `json:"questionType"`
	AnswerOptions  []string       `json:"answerOptions,omitempty"`
	CorrectAnswers []bool         `json:"correctAnswers,omitempty"`
	Numeric        *NumericAnswer `json:"numericQuestion,omitempty"`
	TextAnswer     string         `json:"textAnswer,omitempty"`
	TimeLimitSec   int            `json:"timeLimit"`
	Explanation    string         `json:"explanation,omitempty"`
	GradeLevel     string         `json:"gradeLevel,omitempty"`
	Discipline     string         `json:"discipline,omitempty"`
	Themes         []string       `json:"themes,omitempty"`
}

// Duration returns the question time limit scaled by multiplier. A zero
// multiplier is treated as 1.
func (q Question) Duration(multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(q.TimeLimitSec) * multiplier * float64(time.Second))
}

// CorrectIndices lists option indices flagged as correct.
func (q Question) CorrectIndices() []int {
	out := make([]int, 0, len(q.CorrectAnswers))
	for i, ok := range q.CorrectAnswers {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// PublicQuestion is what participants see before the reveal: no answer key.
type PublicQuestion struct {
	UID           string       `json:"uid"`
	Title         string       `json:"title,omitempty"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"questionType"`
	AnswerOptions []string     `json:"answerOptions,omitempty"`
	Unit          string       `json:"unit,omitempty"`
	TimeLimitSec  int          `json:"timeLimit"`
}

// Public strips the answer key and explanation.
func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{
		UID:           q.UID,
		Title:         q.Title,
		Text:          q.Text,
		Type:          q.Type,
		AnswerOptions: append([]string(nil), q.AnswerOptions...),
		TimeLimitSec:  q.TimeLimitSec,
	}
	if q.Numeric != nil {
		pq.Unit = q.Numeric.Unit
	}
	return pq
}

// Reveal is the answer key disclosed at the reveal transition.
type Reveal struct {
	QuestionUID    string         `json:"questionUid"`
	CorrectAnswers []int          `json:"correctAnswers,omitempty"`
	Numeric        *NumericAnswer `json:"numericAnswer,omitempty"`
	TextAnswer     string         `json:"textAnswer,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
}

// RevealOf builds the reveal payload of q.
func RevealOf(q Question) Reveal {
	r := Reveal{
		QuestionUID: q.UID,
		Explanation: q.Explanation,
		TextAnswer:  q.TextAnswer,
	}
	if len(q.CorrectAnswers) > 0 {
		r.CorrectAnswers = q.CorrectIndices()
	}
	if q.Numeric != nil {
		n := *q.Numeric
		r.Numeric = &n
	}
	return r
}

// QuestionFilter selects questions for a random practice draw.
type QuestionFilter struct {
	GradeLevel string   `json:"gradeLevel,omitempty"`
	Discipline string   `json:"discipline,omitempty"`
	Themes     []string `json:"themes,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Matches reports whether q satisfies the filter. Themes match when q has any of them.
func (f QuestionFilter) Matches(q Question) bool {
	if f.GradeLevel != "" && f.GradeLevel != q.GradeLevel {
		return false
	}
	if f.Discipline != "" && f.Discipline != q.Discipline {
		return false
	}
	if len(f.Themes) == 0 {
		return true
	}
	for _, want := range f.Themes {
		for _, have := range q.Themes {
			if want == have {
				return true
			}
		}
	}
	return false
}

// GameTemplate is a pre-built ordered question list.
type GameTemplate struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CreatorID    string   `json:"creatorId,omitempty"`
	QuestionUIDs []string `json:"questionUids"`
}
