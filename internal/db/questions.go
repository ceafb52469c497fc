package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"rag-apps/internal/apperr"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

type QuestionRow struct {
	bun.BaseModel `bun:"table:quiz_questions,alias:qq"`
	ID            int64             `bun:"id,pk,autoincrement"`
	QuestionText  string            `bun:"question_text,notnull"`
	Options       map[string]string `bun:"options,type:jsonb,notnull"`
	CorrectAnswer string            `bun:"correct_answer"`
	Explanation   *string           `bun:"explanation"`
	Source        string            `bun:"source"`
	Topic         string            `bun:"topic"`
	Difficulty    int               `bun:"difficulty"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func toRow(q models.Question) QuestionRow {
	opts := q.Options
	if opts == nil {
		opts = map[string]string{}
	}
	return QuestionRow{
		QuestionText:  q.QuestionText,
		Options:       opts,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
		Source:        q.Source,
		Topic:         q.Topic,
		Difficulty:    q.Difficulty,
	}
}

func (r QuestionRow) toQuestion() models.Question {
	return models.Question{
		QuestionText:  r.QuestionText,
		Options:       r.Options,
		CorrectAnswer: r.CorrectAnswer,
		Explanation:   r.Explanation,
		Source:        r.Source,
		Topic:         r.Topic,
		Difficulty:    r.Difficulty,
	}
}

// QuestionStore persists extracted quiz questions.
type QuestionStore struct {
	db     *bun.DB
	policy helper.RetryPolicy
}

func NewQuestionStore(db *bun.DB, policy helper.RetryPolicy) *QuestionStore {
	return &QuestionStore{db: db, policy: policy}
}

func (s *QuestionStore) InitDB(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*QuestionRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "db.InitDB", err)
	}
	return nil
}

// InsertQuestions writes all questions in a single batch insert.
func (s *QuestionStore) InsertQuestions(ctx context.Context, questions []models.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	rows := make([]QuestionRow, len(questions))
	for i, q := range questions {
		rows[i] = toRow(q)
	}
	_, err := helper.Retry(ctx, s.policy, "insert questions", func(ctx context.Context) (struct{}, error) {
		_, err := s.db.NewInsert().Model(&rows).Exec(ctx)
		return struct{}{}, Classify(err)
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "db.InsertQuestions", err)
	}
	log.Info().Int("count", len(rows)).Msg("Inserted questions")
	return len(rows), nil
}

// SampleQuestions returns the most recently inserted questions.
func (s *QuestionStore) SampleQuestions(ctx context.Context, limit int) ([]models.Question, error) {
	if limit <= 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "db.SampleQuestions", "limit must be positive, got %d", limit)
	}
	rows, err := helper.Retry(ctx, s.policy, "sample questions", func(ctx context.Context) ([]QuestionRow, error) {
		var rows []QuestionRow
		err := s.db.NewSelect().Model(&rows).OrderExpr("id DESC").Limit(limit).Scan(ctx)
		return rows, Classify(err)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "db.SampleQuestions", err)
	}
	out := make([]models.Question, len(rows))
	for i, r := range rows {
		out[i] = r.toQuestion()
	}
	return out, nil
}

func (s *QuestionStore) DropQuestions(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*QuestionRow)(nil)).IfExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("drop quiz_questions: %w", err)
	}
	return nil
}
