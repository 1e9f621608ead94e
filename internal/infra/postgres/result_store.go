package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"mathquest-live/internal/domain"
)

type gameResultRow struct {
	bun.BaseModel `bun:"table:game_results"`

	SessionID        string                    `bun:"session_id,pk"`
	AccessCode       string                    `bun:"access_code,notnull"`
	PlayMode         string                    `bun:"play_mode,notnull"`
	CreatorID        string                    `bun:"creator_id,notnull"`
	QuestionCount    int                       `bun:"question_count,notnull"`
	ParticipantCount int                       `bun:"participant_count,notnull"`
	Leaderboard      []domain.LeaderboardEntry `bun:"leaderboard,type:jsonb,notnull"`
	StartedAt        time.Time                 `bun:"started_at,nullzero"`
	EndedAt          time.Time                 `bun:"ended_at,notnull"`
	Deferred         bool                      `bun:"deferred,notnull"`
}

type practiceResultRow struct {
	bun.BaseModel `bun:"table:practice_results"`

	SessionID   string                    `bun:"session_id,pk"`
	UserID      string                    `bun:"user_id,notnull"`
	Settings    domain.PracticeSettings   `bun:"settings,type:jsonb,notnull"`
	Statistics  domain.PracticeStatistics `bun:"statistics,type:jsonb,notnull"`
	Score       int                       `bun:"score,notnull"`
	CreatedAt   time.Time                 `bun:"created_at,notnull"`
	CompletedAt time.Time                 `bun:"completed_at,notnull"`
}

// ResultStore is the durable record of completed games and practice sessions.
// Writes are keyed by session id and ignore duplicates, so a retried
// checkpoint never produces a second row.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) SaveGameResult(ctx context.Context, r domain.GameResult) error {
	row := &gameResultRow{
		SessionID:        r.SessionID,
		AccessCode:       r.AccessCode,
		PlayMode:         string(r.PlayMode),
		CreatorID:        r.CreatorID,
		QuestionCount:    r.QuestionCount,
		ParticipantCount: r.ParticipantCount,
		Leaderboard:      r.Leaderboard,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		Deferred:         r.Deferred,
	}
	if row.Leaderboard == nil {
		row.Leaderboard = []domain.LeaderboardEntry{}
	}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT (session_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("save game result: %w", err)
	}
	return nil
}

// GetGameResult returns the most recent live result recorded under accessCode.
func (s *ResultStore) GetGameResult(ctx context.Context, accessCode string) (domain.GameResult, error) {
	var row gameResultRow
	err := s.db.NewSelect().Model(&row).
		Where("access_code = ?", accessCode).
		Where("deferred = false").
		Order("ended_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameResult{}, domain.ErrResultNotFound.With("no result for game " + accessCode)
	}
	if err != nil {
		return domain.GameResult{}, fmt.Errorf("get game result: %w", err)
	}
	return row.result(), nil
}

// ListDeferredResults returns the replay results of accessCode, newest first.
func (s *ResultStore) ListDeferredResults(ctx context.Context, accessCode string) ([]domain.GameResult, error) {
	var rows []gameResultRow
	err := s.db.NewSelect().Model(&rows).
		Where("access_code = ?", accessCode).
		Where("deferred = true").
		Order("ended_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deferred results: %w", err)
	}
	out := make([]domain.GameResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.result())
	}
	return out, nil
}

func (row gameResultRow) result() domain.GameResult {
	return domain.GameResult{
		SessionID:        row.SessionID,
		AccessCode:       row.AccessCode,
		PlayMode:         domain.PlayMode(row.PlayMode),
		CreatorID:        row.CreatorID,
		QuestionCount:    row.QuestionCount,
		ParticipantCount: row.ParticipantCount,
		Leaderboard:      row.Leaderboard,
		StartedAt:        row.StartedAt,
		EndedAt:          row.EndedAt,
		Deferred:         row.Deferred,
	}
}

func (s *ResultStore) SavePracticeResult(ctx context.Context, r domain.PracticeResult) error {
	row := &practiceResultRow{
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		Settings:    r.Settings,
		Statistics:  r.Statistics,
		Score:       r.Score,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT (session_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("save practice result: %w", err)
	}
	return nil
}

// ListPracticeResults returns userID's results, newest first. limit <= 0 means all.
func (s *ResultStore) ListPracticeResults(ctx context.Context, userID string, limit int) ([]domain.PracticeResult, error) {
	var rows []practiceResultRow
	q := s.db.NewSelect().Model(&rows).
		Where("user_id = ?", userID).
		Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list practice results: %w", err)
	}
	out := make([]domain.PracticeResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.PracticeResult{
			SessionID:   row.SessionID,
			UserID:      row.UserID,
			Settings:    row.Settings,
			Statistics:  row.Statistics,
			Score:       row.Score,
			CreatedAt:   row.CreatedAt,
			CompletedAt: row.CompletedAt,
		})
	}
	return out, nil
}
