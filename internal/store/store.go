package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/errors"
	"github.com/victornm/quizd/internal/scoring"
)

const codeUniqueViolation = "23505"

type Config struct {
	DB *pgxpool.Pool
}

// Store persists quizzes, attempts and their question sets in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(c Config) *Store {
	return &Store{
		db: c.DB,
	}
}

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	const stmt = `
SELECT quiz_id, name, max_questions, negative_marking, cutoff, time_limit_seconds, answer_release_time
FROM quizzes
WHERE quiz_id = $1;`

	var (
		q         domain.Quiz
		timeLimit *int64
	)
	err := s.db.QueryRow(ctx, stmt, quizID).Scan(
		&q.QuizID,
		&q.Name,
		&q.MaxQuestions,
		&q.NegativeMarking,
		&q.Cutoff,
		&timeLimit,
		&q.AnswerReleaseTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundf("quiz %d not found", quizID)
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	if timeLimit != nil {
		q.TimeLimit = time.Duration(*timeLimit) * time.Second
	}

	return &q, nil
}

const attemptColumns = `attempt_id::text, user_id, quiz_id, status, assigned_by, assigned_at, start_time, end_time,
questions_selected_at, score, total_marks, percentage, passed`

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a                 domain.Attempt
		score, percentage decimal.NullDecimal
	)

	if err := row.Scan(
		&a.AttemptID,
		&a.UserID,
		&a.QuizID,
		&a.Status,
		&a.AssignedBy,
		&a.AssignedAt,
		&a.StartTime,
		&a.EndTime,
		&a.QuestionsSelectedAt,
		&score,
		&a.TotalMarks,
		&percentage,
		&a.Passed,
	); err != nil {
		return domain.Attempt{}, err
	}

	if score.Valid {
		a.Score = &score.Decimal
	}
	if percentage.Valid {
		a.Percentage = &percentage.Decimal
	}

	return a, nil
}

func (s *Store) GetAttempt(ctx context.Context, userID, quizID int64) (*domain.Attempt, error) {
	stmt := `SELECT ` + attemptColumns + ` FROM attempts WHERE user_id = $1 AND quiz_id = $2;`

	a, err := scanAttempt(s.db.QueryRow(ctx, stmt, userID, quizID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundf("attempt not found: user=%d quiz=%d", userID, quizID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	return &a, nil
}

func (s *Store) ListUserAttempts(ctx context.Context, userID int64) ([]domain.Attempt, error) {
	stmt := `SELECT ` + attemptColumns + ` FROM attempts WHERE user_id = $1 ORDER BY assigned_at DESC, attempt_id DESC;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Attempt, error) {
		return scanAttempt(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	return attempts, nil
}

// ListQuizAttempts returns the completed attempts of a quiz, best percentage first.
func (s *Store) ListQuizAttempts(ctx context.Context, quizID int64) ([]domain.Attempt, error) {
	stmt := `SELECT ` + attemptColumns + `
FROM attempts
WHERE quiz_id = $1 AND status = 'completed'
ORDER BY percentage DESC, user_id DESC;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Attempt, error) {
		return scanAttempt(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}

	return attempts, nil
}

// CreateAttempts inserts the attempts that do not exist yet and returns the stored attempt of every (user, quiz) pair.
func (s *Store) CreateAttempts(ctx context.Context, attempts []domain.Attempt) ([]domain.Attempt, error) {
	insStmt := `
INSERT INTO attempts (attempt_id, user_id, quiz_id, status, assigned_by, assigned_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, quiz_id) DO NOTHING;`

	b := &pgx.Batch{}
	for _, a := range attempts {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate attempt ID: %w", err)
		}
		b.Queue(insStmt, id, a.UserID, a.QuizID, a.Status, a.AssignedBy, a.AssignedAt)
	}

	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return nil, fmt.Errorf("insert attempts: %w", err)
	}

	out := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		stored, err := s.GetAttempt(ctx, a.UserID, a.QuizID)
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}

	return out, nil
}

func (s *Store) ListPoolQuestionIDs(ctx context.Context, quizID int64) ([]int64, error) {
	const stmt = `SELECT question_id FROM quiz_questions WHERE quiz_id = $1 ORDER BY question_id;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}

	return ids, nil
}

func (s *Store) ListAttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	return listAttemptQuestions(ctx, s.db, attemptID)
}

func listAttemptQuestions(ctx context.Context, q querier, attemptID string) ([]domain.AttemptQuestion, error) {
	const stmt = `
SELECT question_id, question_order
FROM attempt_questions
WHERE attempt_id = $1
ORDER BY question_order;`

	rows, err := q.Query(ctx, stmt, attemptID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.AttemptQuestion, error) {
		var aq domain.AttemptQuestion
		err := r.Scan(&aq.QuestionID, &aq.Order)
		return aq, err
	})
}

// SaveAttemptQuestions stores qs as the attempt's question set unless one was already selected,
// and marks the attempt's selection time. An empty qs is a valid, final selection.
// Concurrent callers serialize on the attempt row; whichever commits first wins and the others get its set.
func (s *Store) SaveAttemptQuestions(ctx context.Context, attemptID string, qs []domain.AttemptQuestion, at time.Time) ([]domain.AttemptQuestion, bool, error) {
	saved, created, err := s.saveAttemptQuestions(ctx, attemptID, qs, at)
	if errors.HasCode(err, errors.CodeAlreadyExists) {
		existing, err := s.ListAttemptQuestions(ctx, attemptID)
		if err != nil {
			return nil, false, fmt.Errorf("list attempt questions: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return saved, created, nil
}

func (s *Store) saveAttemptQuestions(ctx context.Context, attemptID string, qs []domain.AttemptQuestion, at time.Time) (_ []domain.AttemptQuestion, _ bool, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const lockStmt = `SELECT questions_selected_at FROM attempts WHERE attempt_id = $1 FOR UPDATE;`

	var selectedAt *time.Time
	if err = tx.QueryRow(ctx, lockStmt, attemptID).Scan(&selectedAt); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, false, errors.NotFoundf("attempt %s not found", attemptID)
		}
		return nil, false, fmt.Errorf("lock attempt: %w", err)
	}

	if selectedAt != nil {
		existing, err := listAttemptQuestions(ctx, tx, attemptID)
		if err != nil {
			return nil, false, fmt.Errorf("list attempt questions: %w", err)
		}
		return existing, false, tx.Commit(ctx)
	}

	const insStmt = `INSERT INTO attempt_questions (attempt_id, question_id, question_order) VALUES ($1, $2, $3);`

	if len(qs) > 0 {
		b := &pgx.Batch{}
		for _, q := range qs {
			b.Queue(insStmt, attemptID, q.QuestionID, q.Order)
		}

		if err = tx.SendBatch(ctx, b).Close(); err != nil {
			var pgErr *pgconn.PgError
			if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
				return nil, false, errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
			}
			return nil, false, fmt.Errorf("insert attempt questions: %w", err)
		}
	}

	const markStmt = `UPDATE attempts SET questions_selected_at = $2 WHERE attempt_id = $1;`

	if _, err = tx.Exec(ctx, markStmt, attemptID, at); err != nil {
		return nil, false, fmt.Errorf("mark questions selected: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	return qs, true, nil
}

// ListAttemptQuestionDetails returns the attempt's questions with their options, in attempt order.
func (s *Store) ListAttemptQuestionDetails(ctx context.Context, attemptID string) ([]domain.Question, error) {
	const stmt = `
SELECT q.question_id, q.question_text, q.type, q.marks, q.explanation,
       o.option_id, o.option_text, o.is_correct
FROM attempt_questions aq
JOIN questions q ON q.question_id = aq.question_id
LEFT JOIN question_options o ON o.question_id = q.question_id
WHERE aq.attempt_id = $1
ORDER BY aq.question_order, o.option_id;`

	rows, err := s.db.Query(ctx, stmt, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q          domain.Question
			optionID   *int64
			optionText *string
			isCorrect  *bool
		)
		if err := rows.Scan(&q.QuestionID, &q.QuestionText, &q.Type, &q.Marks, &q.Explanation,
			&optionID, &optionText, &isCorrect); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		if n := len(questions); n == 0 || questions[n-1].QuestionID != q.QuestionID {
			questions = append(questions, q)
		}

		if optionID != nil {
			last := &questions[len(questions)-1]
			last.Options = append(last.Options, domain.Option{
				OptionID:   *optionID,
				OptionText: deref(optionText),
				IsCorrect:  deref(isCorrect),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	for _, q := range questions {
		if err := q.Invariant(); err != nil {
			slog.WarnContext(ctx, "store: invalid question", "attempt_id", attemptID, "error", err)
		}
	}

	return questions, nil
}

func (s *Store) MarkAttemptStarted(ctx context.Context, attemptID string, at time.Time) (bool, error) {
	const stmt = `
UPDATE attempts SET status = 'in_progress', start_time = $2
WHERE attempt_id = $1 AND status = 'assigned';`

	tag, err := s.db.Exec(ctx, stmt, attemptID, at)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// CompleteAttempt stores the result of an in-progress attempt. Only one caller can complete an attempt,
// the others get CodeAlreadyExists.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID string, at time.Time, res scoring.Result) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const updStmt = `
UPDATE attempts SET status = 'completed', end_time = $2, score = $3, total_marks = $4, percentage = $5, passed = $6
WHERE attempt_id = $1 AND status = 'in_progress';`

	tag, err := tx.Exec(ctx, updStmt, attemptID, at, res.TotalScore, res.TotalMarks, res.Percentage, res.Passed)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("attempt %s is no longer in progress", attemptID))
	}

	const insStmt = `
INSERT INTO attempt_answers (attempt_id, question_id, selected_option_ids, is_correct, marks_obtained)
VALUES ($1, $2, $3, $4, $5);`

	b := &pgx.Batch{}
	for _, a := range res.ScoredAnswers {
		selected := a.SelectedOptionIDs
		if selected == nil {
			selected = []int64{}
		}
		b.Queue(insStmt, attemptID, a.QuestionID, selected, a.IsCorrect, a.MarksObtained)
	}

	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert answers: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ExpireAttempt(ctx context.Context, attemptID string, at time.Time) error {
	const stmt = `
UPDATE attempts SET status = 'expired', end_time = $2
WHERE attempt_id = $1 AND status IN ('assigned', 'in_progress');`

	_, err := s.db.Exec(ctx, stmt, attemptID, at)
	return err
}

func (s *Store) ListAttemptAnswers(ctx context.Context, attemptID string) ([]domain.ScoredAnswer, error) {
	const stmt = `
SELECT a.question_id, a.selected_option_ids, a.is_correct, a.marks_obtained
FROM attempt_answers a
JOIN attempt_questions aq ON aq.attempt_id = a.attempt_id AND aq.question_id = a.question_id
WHERE a.attempt_id = $1
ORDER BY aq.question_order;`

	rows, err := s.db.Query(ctx, stmt, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoredAnswer, error) {
		var a domain.ScoredAnswer
		err := r.Scan(&a.QuestionID, &a.SelectedOptionIDs, &a.IsCorrect, &a.MarksObtained)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	return answers, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
