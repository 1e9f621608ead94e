package app

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"mathquest-live/internal/domain"
)

// ScoringPolicy turns a correct answer into points. Faster answers score more;
// the slowest correct answer still earns Base*(1-MaxPenalty).
type ScoringPolicy struct {
	Base       int
	MaxPenalty float64
}

// DefaultScoringPolicy awards 1000 points, decaying to 500 at the deadline.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{Base: 1000, MaxPenalty: 0.5}
}

// Score is monotone non-increasing in elapsedMs for a fixed duration. Elapsed
// time is clamped to [0, durationMs]; without a duration there is no penalty.
func (p ScoringPolicy) Score(correct bool, elapsedMs, durationMs int64) int {
	if !correct {
		return 0
	}
	if durationMs <= 0 {
		return p.Base
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	if elapsedMs > durationMs {
		elapsedMs = durationMs
	}
	penalty := math.Floor(float64(p.Base) * p.MaxPenalty * float64(elapsedMs) / float64(durationMs))
	return p.Base - int(penalty)
}

// Evaluate checks value against the answer key of q. A value whose shape does
// not fit the question type fails with domain.ErrInvalidPayload.
func Evaluate(q domain.Question, value domain.AnswerValue) (bool, error) {
	switch q.Type {
	case domain.QuestionSingleChoice:
		idx, err := singleIndex(value)
		if err != nil {
			return false, err
		}
		if idx < 0 || idx >= len(q.CorrectAnswers) {
			return false, domain.ErrInvalidPayload.With("answer index out of range")
		}
		return q.CorrectAnswers[idx], nil

	case domain.QuestionMultipleChoice:
		picked, err := choiceSet(value, len(q.CorrectAnswers))
		if err != nil {
			return false, err
		}
		want := q.CorrectIndices()
		if len(picked) != len(want) {
			return false, nil
		}
		for i := range want {
			if picked[i] != want[i] {
				return false, nil
			}
		}
		return true, nil

	case domain.QuestionNumeric:
		if value.Number == nil || q.Numeric == nil {
			return false, domain.ErrInvalidPayload.With("numeric answer expected")
		}
		return math.Abs(*value.Number-q.Numeric.CorrectAnswer) <= q.Numeric.Tolerance, nil

	case domain.QuestionText:
		if value.Text == nil {
			return false, domain.ErrInvalidPayload.With("text answer expected")
		}
		return strings.EqualFold(strings.TrimSpace(*value.Text), strings.TrimSpace(q.TextAnswer)), nil
	}
	return false, domain.ErrInvalidPayload.With("unsupported question type " + string(q.Type))
}

func singleIndex(v domain.AnswerValue) (int, error) {
	switch {
	case v.Index != nil:
		return *v.Index, nil
	case len(v.Indices) == 1:
		return v.Indices[0], nil
	}
	return 0, domain.ErrInvalidPayload.With("single choice answer expected")
}

// choiceSet returns the sorted, de-duplicated selection.
func choiceSet(v domain.AnswerValue, options int) ([]int, error) {
	raw := v.Indices
	if raw == nil && v.Index != nil {
		raw = []int{*v.Index}
	}
	if raw == nil {
		return nil, domain.ErrInvalidPayload.With("choice answer expected")
	}
	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, i := range raw {
		if i < 0 || i >= options {
			return nil, domain.ErrInvalidPayload.With("answer index out of range")
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// statKeys returns the aggregate buckets a value contributes to.
func statKeys(q domain.Question, v domain.AnswerValue) []string {
	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionMultipleChoice:
		set, err := choiceSet(v, len(q.CorrectAnswers))
		if err != nil {
			return nil
		}
		keys := make([]string, 0, len(set))
		for _, i := range set {
			keys = append(keys, strconv.Itoa(i))
		}
		return keys
	case domain.QuestionNumeric:
		if v.Number == nil {
			return nil
		}
		return []string{strconv.FormatFloat(*v.Number, 'f', -1, 64)}
	case domain.QuestionText:
		if v.Text == nil {
			return nil
		}
		return []string{strings.ToLower(strings.TrimSpace(*v.Text))}
	}
	return nil
}
