package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mathquest-live/internal/domain"
)

// QuestionLoader reads question JSONB documents and game templates from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, uid string) (domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM questions WHERE uid=$1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound.With("question " + uid + " not found")
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	q.UID = uid
	return q, nil
}

func (l *QuestionLoader) LoadTemplate(ctx context.Context, id string) (domain.GameTemplate, error) {
	tpl := domain.GameTemplate{ID: id}
	err := l.pool.QueryRow(ctx,
		`SELECT name, creator_id, question_uids FROM game_templates WHERE id=$1`, id,
	).Scan(&tpl.Name, &tpl.CreatorID, &tpl.QuestionUIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameTemplate{}, domain.ErrTemplateNotFound.With("template " + id + " not found")
	}
	if err != nil {
		return domain.GameTemplate{}, fmt.Errorf("load template: %w", err)
	}
	return tpl, nil
}

// FindQuestionUIDs returns uids matching filter in stable order. Empty filter
// fields match everything; themes match on overlap.
func (l *QuestionLoader) FindQuestionUIDs(ctx context.Context, filter domain.QuestionFilter) ([]string, error) {
	themes := filter.Themes
	if themes == nil {
		themes = []string{}
	}
	rows, err := l.pool.Query(ctx, `
		SELECT uid FROM questions
		WHERE ($1 = '' OR grade_level = $1)
		  AND ($2 = '' OR discipline = $2)
		  AND (cardinality($3::text[]) = 0 OR themes && $3::text[])
		ORDER BY uid
		LIMIT NULLIF($4, 0)`,
		filter.GradeLevel, filter.Discipline, themes, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan question uid: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	return uids, nil
}

// UpsertQuestion writes q under its uid, keeping the filter columns in sync
// with the document.
func (l *QuestionLoader) UpsertQuestion(ctx context.Context, q domain.Question) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	themes := q.Themes
	if themes == nil {
		themes = []string{}
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO questions (uid, data, grade_level, discipline, themes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE
		SET data = EXCLUDED.data, grade_level = EXCLUDED.grade_level,
		    discipline = EXCLUDED.discipline, themes = EXCLUDED.themes`,
		q.UID, raw, q.GradeLevel, q.Discipline, themes)
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}
	return nil
}

func (l *QuestionLoader) UpsertTemplate(ctx context.Context, tpl domain.GameTemplate) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO game_templates (id, name, creator_id, question_uids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, creator_id = EXCLUDED.creator_id, question_uids = EXCLUDED.question_uids`,
		tpl.ID, tpl.Name, tpl.CreatorID, tpl.QuestionUIDs)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}
