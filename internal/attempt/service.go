package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/errors"
	"github.com/victornm/quizd/internal/event"
	"github.com/victornm/quizd/internal/scoring"
	"github.com/victornm/quizd/internal/selection"
	"github.com/victornm/quizd/internal/telemetry"
)

// Store is the persistence the attempt lifecycle needs. Lookups of missing records return an
// *errors.Error with CodeNotFound.
type Store interface {
	GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error)
	GetAttempt(ctx context.Context, userID, quizID int64) (*domain.Attempt, error)
	ListUserAttempts(ctx context.Context, userID int64) ([]domain.Attempt, error)
	// ListQuizAttempts returns the completed attempts of a quiz, best percentage first.
	ListQuizAttempts(ctx context.Context, quizID int64) ([]domain.Attempt, error)

	// CreateAttempts inserts assigned attempts, leaving existing (user, quiz) pairs unchanged,
	// and returns the attempt of every pair.
	CreateAttempts(ctx context.Context, attempts []domain.Attempt) ([]domain.Attempt, error)

	ListPoolQuestionIDs(ctx context.Context, quizID int64) ([]int64, error)
	ListAttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error)
	// SaveAttemptQuestions persists qs and marks the attempt's QuestionsSelectedAt, unless questions were
	// already selected, atomically. An empty qs is a final selection too. It returns the persisted set and
	// whether qs was the one stored.
	SaveAttemptQuestions(ctx context.Context, attemptID string, qs []domain.AttemptQuestion, at time.Time) ([]domain.AttemptQuestion, bool, error)
	// ListAttemptQuestionDetails returns the attempt's questions with options, in attempt order.
	ListAttemptQuestionDetails(ctx context.Context, attemptID string) ([]domain.Question, error)

	// MarkAttemptStarted moves an assigned attempt to in_progress. It reports false if the attempt was not assigned.
	MarkAttemptStarted(ctx context.Context, attemptID string, at time.Time) (bool, error)
	// CompleteAttempt stores the result only if the attempt is in_progress, otherwise it fails with CodeAlreadyExists.
	CompleteAttempt(ctx context.Context, attemptID string, at time.Time, res scoring.Result) error
	ExpireAttempt(ctx context.Context, attemptID string, at time.Time) error
	ListAttemptAnswers(ctx context.Context, attemptID string) ([]domain.ScoredAnswer, error)
}

type Config struct {
	Store    Store
	EventBus *event.Bus
	// SubmitGrace is added to a quiz's time limit before a submission is treated as late.
	SubmitGrace time.Duration
	Selector    *selection.Selector
	Now         func() time.Time
}

type Service struct {
	store    Store
	eb       *event.Bus
	grace    time.Duration
	selector *selection.Selector
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		eb:       c.EventBus,
		grace:    c.SubmitGrace,
		selector: c.Selector,
		now:      c.Now,
	}

	if s.selector == nil {
		s.selector = selection.New()
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// AssignQuizRequest represents a request to assign a quiz to users.
type AssignQuizRequest struct {
	QuizID     int64
	UserIDs    []int64
	AssignedBy int64
}

// AssignQuiz creates an assigned attempt for every user that does not have one for the quiz yet.
func (s *Service) AssignQuiz(ctx context.Context, req AssignQuizRequest) ([]domain.Attempt, error) {
	if len(req.UserIDs) == 0 {
		return nil, errors.InvalidArgumentf("no users to assign")
	}

	if _, err := s.store.GetQuiz(ctx, req.QuizID); err != nil {
		return nil, err
	}

	now := s.now()
	attempts := make([]domain.Attempt, 0, len(req.UserIDs))
	for _, u := range req.UserIDs {
		attempts = append(attempts, domain.Attempt{
			UserID:     u,
			QuizID:     req.QuizID,
			Status:     domain.AttemptStatusAssigned,
			AssignedBy: req.AssignedBy,
			AssignedAt: now,
		})
	}

	created, err := s.store.CreateAttempts(ctx, attempts)
	if err != nil {
		return nil, fmt.Errorf("create attempts: %w", err)
	}

	return created, nil
}

type StartAttemptRequest struct {
	UserID int64
	QuizID int64
}

type StartAttemptResponse struct {
	Attempt domain.Attempt
	Quiz    domain.Quiz
	// Questions are in presentation order and include correctness flags; transports must strip them.
	Questions []domain.Question
	Order     []domain.AttemptQuestion
}

// StartAttempt fixes the attempt's question set on first call and re-serves it afterwards.
func (s *Service) StartAttempt(ctx context.Context, req StartAttemptRequest) (*StartAttemptResponse, error) {
	a, q, err := s.load(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	if a.Status.Terminal() {
		return nil, errors.FailedPreconditionf("quiz %d is already %s", req.QuizID, a.Status)
	}

	if late, err := s.expireIfLate(ctx, a, q); err != nil || late {
		return nil, err
	}

	order, err := s.ensureQuestions(ctx, a, q)
	if err != nil {
		return nil, err
	}

	if a.Status == domain.AttemptStatusAssigned {
		now := s.now()
		started, err := s.store.MarkAttemptStarted(ctx, a.AttemptID, now)
		if err != nil {
			return nil, fmt.Errorf("mark attempt started: %w", err)
		}

		if started {
			a.Status = domain.AttemptStatusInProgress
			a.StartTime = &now

			s.eb.Publish(ctx, domain.EventAttemptStarted{
				Attempt:   *a,
				Questions: order,
			})
		} else if a, err = s.store.GetAttempt(ctx, req.UserID, req.QuizID); err != nil {
			return nil, err
		}
	}

	questions, err := s.store.ListAttemptQuestionDetails(ctx, a.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	return &StartAttemptResponse{
		Attempt:   *a,
		Quiz:      *q,
		Questions: questions,
		Order:     order,
	}, nil
}

func (s *Service) ensureQuestions(ctx context.Context, a *domain.Attempt, q *domain.Quiz) ([]domain.AttemptQuestion, error) {
	if a.QuestionsSelectedAt != nil {
		existing, err := s.store.ListAttemptQuestions(ctx, a.AttemptID)
		if err != nil {
			return nil, fmt.Errorf("list attempt questions: %w", err)
		}

		telemetry.ObserveQuestionSelection(telemetry.SelectionReused)
		return existing, nil
	}

	pool, err := s.store.ListPoolQuestionIDs(ctx, q.QuizID)
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}

	selected := s.selector.Select(pool, q.MaxQuestions)

	now := s.now()
	saved, created, err := s.store.SaveAttemptQuestions(ctx, a.AttemptID, selected, now)
	if err != nil {
		return nil, fmt.Errorf("save attempt questions: %w", err)
	}

	if created {
		a.QuestionsSelectedAt = &now
		telemetry.ObserveQuestionSelection(telemetry.SelectionCreated)
		slog.InfoContext(ctx, "attempt: questions selected",
			"attempt_id", a.AttemptID,
			"pool", len(pool),
			"selected", len(saved),
		)
	} else {
		telemetry.ObserveQuestionSelection(telemetry.SelectionReused)
	}

	return saved, nil
}

type GetAttemptQuestionsRequest struct {
	UserID int64
	QuizID int64
}

type GetAttemptQuestionsResponse struct {
	// Questions are in presentation order and include correctness flags; transports must strip them.
	Questions []domain.Question
	Order     []domain.AttemptQuestion
}

// GetAttemptQuestions returns the questions of an in-progress attempt in presentation order.
func (s *Service) GetAttemptQuestions(ctx context.Context, req GetAttemptQuestionsRequest) (*GetAttemptQuestionsResponse, error) {
	a, q, err := s.load(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	if a.Status != domain.AttemptStatusInProgress {
		return nil, errors.FailedPreconditionf("quiz %d is %s", req.QuizID, a.Status)
	}

	if late, err := s.expireIfLate(ctx, a, q); err != nil || late {
		return nil, err
	}

	order, err := s.store.ListAttemptQuestions(ctx, a.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	questions, err := s.store.ListAttemptQuestionDetails(ctx, a.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	return &GetAttemptQuestionsResponse{
		Questions: questions,
		Order:     order,
	}, nil
}

type SubmitAttemptRequest struct {
	UserID     int64
	QuizID     int64
	Answers    []domain.Answer
	SubmitTime time.Time
}

type SubmitAttemptResponse struct {
	Attempt domain.Attempt
	Result  scoring.Result
	// AnswersReleased reports whether the per-question detail of Result may be shown to the learner.
	AnswersReleased bool
}

// SubmitAttempt scores the answers against the attempt's own questions and completes the attempt.
func (s *Service) SubmitAttempt(ctx context.Context, req SubmitAttemptRequest) (*SubmitAttemptResponse, error) {
	a, q, err := s.load(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	switch a.Status {
	case domain.AttemptStatusInProgress:
	case domain.AttemptStatusCompleted:
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("quiz %d is already submitted", req.QuizID))
	default:
		return nil, errors.FailedPreconditionf("quiz %d is %s", req.QuizID, a.Status)
	}

	if late, err := s.expireIfLate(ctx, a, q); err != nil || late {
		return nil, err
	}

	questions, err := s.store.ListAttemptQuestionDetails(ctx, a.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	res := scoring.Score(scoring.Request{
		Questions:       questions,
		NegativeMarking: q.NegativeMarking,
		Cutoff:          q.Cutoff,
		Answers:         req.Answers,
	})

	end := req.SubmitTime
	if end.IsZero() {
		end = s.now()
	}

	if err := s.store.CompleteAttempt(ctx, a.AttemptID, end, res); err != nil {
		if errors.HasCode(err, errors.CodeAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("complete attempt: %w", err)
	}

	a.Status = domain.AttemptStatusCompleted
	a.EndTime = &end
	a.Score = &res.TotalScore
	a.TotalMarks = &res.TotalMarks
	a.Percentage = &res.Percentage
	a.Passed = &res.Passed

	telemetry.ObserveAttemptScored(res.Percentage, res.Passed)
	slog.InfoContext(ctx, "attempt: completed",
		"attempt_id", a.AttemptID,
		"score", res.TotalScore.String(),
		"total_marks", res.TotalMarks,
		"percentage", res.Percentage.String(),
		"passed", res.Passed,
	)

	s.eb.Publish(ctx, domain.EventAttemptCompleted{
		Attempt: *a,
		Result:  res.AttemptResult,
	})

	return &SubmitAttemptResponse{
		Attempt:         *a,
		Result:          res,
		AnswersReleased: q.AnswersReleased(end),
	}, nil
}

type GetAttemptResultRequest struct {
	UserID int64
	QuizID int64
}

type GetAttemptResultResponse struct {
	Attempt domain.Attempt
	Quiz    domain.Quiz
	Passed  bool
	// Answers is nil until the quiz's answer release time has passed.
	Answers         []domain.ScoredAnswer
	AnswersReleased bool
}

// GetAttemptResult returns the totals of a completed attempt, and the per-question detail once released.
func (s *Service) GetAttemptResult(ctx context.Context, req GetAttemptResultRequest) (*GetAttemptResultResponse, error) {
	a, q, err := s.load(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	if a.Status != domain.AttemptStatusCompleted {
		return nil, errors.FailedPreconditionf("quiz %d is not completed yet", req.QuizID)
	}

	resp := &GetAttemptResultResponse{
		Attempt:         *a,
		Quiz:            *q,
		Passed:          a.Passed != nil && *a.Passed,
		AnswersReleased: q.AnswersReleased(s.now()),
	}

	if resp.AnswersReleased {
		resp.Answers, err = s.store.ListAttemptAnswers(ctx, a.AttemptID)
		if err != nil {
			return nil, fmt.Errorf("list attempt answers: %w", err)
		}
	}

	return resp, nil
}

type ListUserResultsRequest struct {
	UserID int64
}

// ListUserResults returns every attempt of a user, newest assignment first.
func (s *Service) ListUserResults(ctx context.Context, req ListUserResultsRequest) ([]domain.Attempt, error) {
	return s.store.ListUserAttempts(ctx, req.UserID)
}

func (s *Service) load(ctx context.Context, userID, quizID int64) (*domain.Attempt, *domain.Quiz, error) {
	a, err := s.store.GetAttempt(ctx, userID, quizID)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil, nil, errors.NotFoundf("quiz %d is not assigned to user %d", quizID, userID)
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}

	q, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}

	return a, q, nil
}

// expireIfLate moves an attempt past its deadline (plus grace) to expired. It returns true with a
// FailedPrecondition error when it did.
func (s *Service) expireIfLate(ctx context.Context, a *domain.Attempt, q *domain.Quiz) (bool, error) {
	deadline, ok := a.Deadline(*q)
	if !ok {
		return false, nil
	}

	now := s.now()
	if !now.After(deadline.Add(s.grace)) {
		return false, nil
	}

	if err := s.store.ExpireAttempt(ctx, a.AttemptID, now); err != nil {
		return true, fmt.Errorf("expire attempt: %w", err)
	}

	slog.InfoContext(ctx, "attempt: expired",
		"attempt_id", a.AttemptID,
		"deadline", deadline,
	)

	return true, errors.FailedPreconditionf("time limit of quiz %d has passed", q.QuizID)
}
