package app_test

import (
	"errors"
	"testing"

	"mathquest-live/internal/app"
	"mathquest-live/internal/domain"
)

func TestScoreDecaysWithTime(t *testing.T) {
	p := app.DefaultScoringPolicy()
	const duration = 20_000

	prev := p.Score(true, 0, duration)
	if prev != 1000 {
		t.Fatalf("expected full points for an instant answer, got %d", prev)
	}
	for elapsed := int64(250); elapsed <= duration; elapsed += 250 {
		got := p.Score(true, elapsed, duration)
		if got > prev {
			t.Fatalf("score rose from %d to %d at %dms", prev, got, elapsed)
		}
		prev = got
	}
	if prev != 500 {
		t.Fatalf("expected 500 at the deadline, got %d", prev)
	}
}

func TestScoreEdges(t *testing.T) {
	p := app.DefaultScoringPolicy()
	cases := []struct {
		name     string
		correct  bool
		elapsed  int64
		duration int64
		want     int
	}{
		{"wrong", false, 0, 20_000, 0},
		{"negative elapsed", true, -500, 20_000, 1000},
		{"late clamps", true, 90_000, 20_000, 500},
		{"no duration", true, 5_000, 0, 1000},
		{"floor", true, 2_000, 20_000, 950},
		{"odd", true, 333, 1_000, 834},
	}
	for _, tc := range cases {
		if got := p.Score(tc.correct, tc.elapsed, tc.duration); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	custom := app.ScoringPolicy{Base: 100, MaxPenalty: 1}
	if got := custom.Score(true, 10_000, 10_000); got != 0 {
		t.Fatalf("expected full penalty, got %d", got)
	}
}

func TestEvaluate(t *testing.T) {
	single := domain.Question{UID: "s", Type: domain.QuestionSingleChoice, AnswerOptions: []string{"a", "b"}, CorrectAnswers: []bool{false, true}}
	multi := domain.Question{UID: "m", Type: domain.QuestionMultipleChoice, AnswerOptions: []string{"a", "b", "c"}, CorrectAnswers: []bool{true, false, true}}
	numeric := domain.Question{UID: "n", Type: domain.QuestionNumeric, Numeric: &domain.NumericAnswer{CorrectAnswer: 0.75, Tolerance: 0.01}}
	text := domain.Question{UID: "t", Type: domain.QuestionText, TextAnswer: "Hexagon"}
	word := func(s string) *string { return &s }

	cases := []struct {
		name  string
		q     domain.Question
		value domain.AnswerValue
		want  bool
	}{
		{"single right", single, domain.AnswerValue{Index: intp(1)}, true},
		{"single wrong", single, domain.AnswerValue{Index: intp(0)}, false},
		{"single as list", single, domain.AnswerValue{Indices: []int{1}}, true},
		{"multi exact", multi, domain.AnswerValue{Indices: []int{2, 0}}, true},
		{"multi duplicates", multi, domain.AnswerValue{Indices: []int{0, 2, 2}}, true},
		{"multi partial", multi, domain.AnswerValue{Indices: []int{0}}, false},
		{"multi extra", multi, domain.AnswerValue{Indices: []int{0, 1, 2}}, false},
		{"numeric within tolerance", numeric, domain.AnswerValue{Number: floatp(0.755)}, true},
		{"numeric outside tolerance", numeric, domain.AnswerValue{Number: floatp(0.8)}, false},
		{"text folds case", text, domain.AnswerValue{Text: word("  hexagon ")}, true},
		{"text wrong", text, domain.AnswerValue{Text: word("pentagon")}, false},
	}
	for _, tc := range cases {
		got, err := app.Evaluate(tc.q, tc.value)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	invalid := []struct {
		name  string
		q     domain.Question
		value domain.AnswerValue
	}{
		{"index out of range", single, domain.AnswerValue{Index: intp(5)}},
		{"number for choice", single, domain.AnswerValue{Number: floatp(1)}},
		{"negative multi", multi, domain.AnswerValue{Indices: []int{-1}}},
		{"text for numeric", numeric, domain.AnswerValue{Text: word("0.75")}},
		{"index for text", text, domain.AnswerValue{Index: intp(0)}},
	}
	for _, tc := range invalid {
		if _, err := app.Evaluate(tc.q, tc.value); !errors.Is(err, domain.ErrInvalidPayload) {
			t.Fatalf("%s: expected invalid payload, got %v", tc.name, err)
		}
	}
}
