package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mathquest-live/internal/config"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/infra/postgres"
	"mathquest-live/internal/logging"
)

// NewSeedCmd loads the sample question bank into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample question bank into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			return seedContent(cmd.Context(), postgres.NewQuestionLoader(pool), logger)
		},
	}
}

func seedContent(ctx context.Context, loader *postgres.QuestionLoader, logger *zap.Logger) error {
	questions, templates := sampleContent()
	for _, q := range questions {
		if err := loader.UpsertQuestion(ctx, q); err != nil {
			return err
		}
	}
	for _, tpl := range templates {
		if err := loader.UpsertTemplate(ctx, tpl); err != nil {
			return err
		}
	}
	logger.Info("sample content seeded", zap.Int("questions", len(questions)), zap.Int("templates", len(templates)))
	return nil
}

// sampleContent is the bundled question bank used when no content store is configured.
func sampleContent() ([]domain.Question, []domain.GameTemplate) {
	questions := []domain.Question{
		{
			UID:            "arith-add-1",
			Title:          "Addition",
			Text:           "What is 7 + 8?",
			Type:           domain.QuestionSingleChoice,
			AnswerOptions:  []string{"14", "15", "16", "17"},
			CorrectAnswers: []bool{false, true, false, false},
			TimeLimitSec:   20,
			Explanation:    "7 + 8 = 15.",
			GradeLevel:     "CE2",
			Discipline:     "mathematics",
			Themes:         []string{"arithmetic"},
		},
		{
			UID:            "arith-mul-1",
			Title:          "Multiplication",
			Text:           "Which products equal 24?",
			Type:           domain.QuestionMultipleChoice,
			AnswerOptions:  []string{"3 x 8", "4 x 5", "6 x 4", "2 x 11"},
			CorrectAnswers: []bool{true, false, true, false},
			TimeLimitSec:   30,
			Explanation:    "3 x 8 and 6 x 4 both give 24.",
			GradeLevel:     "CM1",
			Discipline:     "mathematics",
			Themes:         []string{"arithmetic", "multiplication"},
		},
		{
			UID:          "frac-1",
			Title:        "Fractions",
			Text:         "Write 3/4 as a decimal.",
			Type:         domain.QuestionNumeric,
			Numeric:      &domain.NumericAnswer{CorrectAnswer: 0.75, Tolerance: 0.001},
			TimeLimitSec: 30,
			Explanation:  "3 divided by 4 is 0.75.",
			GradeLevel:   "CM2",
			Discipline:   "mathematics",
			Themes:       []string{"fractions"},
		},
		{
			UID:          "geo-1",
			Title:        "Geometry",
			Text:         "What is the name of a polygon with six sides?",
			Type:         domain.QuestionText,
			TextAnswer:   "hexagon",
			TimeLimitSec: 25,
			GradeLevel:   "CM1",
			Discipline:   "mathematics",
			Themes:       []string{"geometry"},
		},
		{
			UID:          "geo-2",
			Title:        "Angles",
			Text:         "How many degrees are in a right angle?",
			Type:         domain.QuestionNumeric,
			Numeric:      &domain.NumericAnswer{CorrectAnswer: 90, Unit: "degrees"},
			TimeLimitSec: 15,
			GradeLevel:   "CM1",
			Discipline:   "mathematics",
			Themes:       []string{"geometry"},
		},
	}
	templates := []domain.GameTemplate{
		{
			ID:           "warmup",
			Name:         "Warm-up",
			QuestionUIDs: []string{"arith-add-1", "arith-mul-1", "frac-1"},
		},
		{
			ID:           "geometry",
			Name:         "Geometry basics",
			QuestionUIDs: []string{"geo-1", "geo-2"},
		},
	}
	return questions, templates
}
