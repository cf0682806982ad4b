// Package attempttest provides an in-memory attempt.Store for tests.
package attempttest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/victornm/quizd/internal/attempt"
	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/errors"
	"github.com/victornm/quizd/internal/scoring"
)

// Store is an in-memory attempt.Store. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	quizzes   map[int64]domain.Quiz
	questions map[int64]domain.Question
	pools     map[int64][]int64
	attempts  map[string]*domain.Attempt
	sets      map[string][]domain.AttemptQuestion
	answers   map[string][]domain.ScoredAnswer
	nextID    int

	// BeforeSave runs before SaveAttemptQuestions takes the lock, to simulate a concurrent start.
	BeforeSave func(attemptID string)
	saves      int
}

var _ attempt.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		quizzes:   make(map[int64]domain.Quiz),
		questions: make(map[int64]domain.Question),
		pools:     make(map[int64][]int64),
		attempts:  make(map[string]*domain.Attempt),
		sets:      make(map[string][]domain.AttemptQuestion),
		answers:   make(map[string][]domain.ScoredAnswer),
	}
}

// AddQuiz stores q and adds questions to its pool.
func (m *Store) AddQuiz(q domain.Quiz, questions ...domain.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quizzes[q.QuizID] = q
	for _, qq := range questions {
		m.questions[qq.QuestionID] = qq
		m.pools[q.QuizID] = append(m.pools[q.QuizID], qq.QuestionID)
	}
}

func (m *Store) attempt(userID, quizID int64) *domain.Attempt {
	for _, a := range m.attempts {
		if a.UserID == userID && a.QuizID == quizID {
			return a
		}
	}
	return nil
}

func (m *Store) GetQuiz(_ context.Context, quizID int64) (*domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quizzes[quizID]
	if !ok {
		return nil, errors.NotFoundf("quiz %d not found", quizID)
	}
	return &q, nil
}

func (m *Store) GetAttempt(_ context.Context, userID, quizID int64) (*domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.attempt(userID, quizID)
	if a == nil {
		return nil, errors.NotFoundf("attempt not found")
	}
	cp := *a
	return &cp, nil
}

func (m *Store) ListUserAttempts(_ context.Context, userID int64) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Attempt
	for _, a := range m.attempts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Attempt) int { return b.AssignedAt.Compare(a.AssignedAt) })
	return out, nil
}

func (m *Store) ListQuizAttempts(_ context.Context, quizID int64) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Attempt
	for _, a := range m.attempts {
		if a.QuizID == quizID && a.Status == domain.AttemptStatusCompleted {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Attempt) int {
		if c := b.Percentage.Cmp(*a.Percentage); c != 0 {
			return c
		}
		return cmp.Compare(b.UserID, a.UserID)
	})
	return out, nil
}

func (m *Store) CreateAttempts(_ context.Context, attempts []domain.Attempt) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if existing := m.attempt(a.UserID, a.QuizID); existing != nil {
			out = append(out, *existing)
			continue
		}
		m.nextID++
		a.AttemptID = fmt.Sprintf("attempt-%d", m.nextID)
		m.attempts[a.AttemptID] = &a
		out = append(out, a)
	}
	return out, nil
}

func (m *Store) ListPoolQuestionIDs(_ context.Context, quizID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.pools[quizID]), nil
}

func (m *Store) ListAttemptQuestions(_ context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.sets[attemptID]), nil
}

func (m *Store) SaveAttemptQuestions(_ context.Context, attemptID string, qs []domain.AttemptQuestion, at time.Time) ([]domain.AttemptQuestion, bool, error) {
	if m.BeforeSave != nil {
		m.BeforeSave(attemptID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[attemptID]
	if !ok {
		return nil, false, errors.NotFoundf("attempt %s not found", attemptID)
	}
	if a.QuestionsSelectedAt != nil {
		return slices.Clone(m.sets[attemptID]), false, nil
	}
	m.saves++
	a.QuestionsSelectedAt = &at
	m.sets[attemptID] = slices.Clone(qs)
	return slices.Clone(qs), true, nil
}

func (m *Store) ListAttemptQuestionDetails(_ context.Context, attemptID string) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Question, 0, len(m.sets[attemptID]))
	for _, aq := range m.sets[attemptID] {
		out = append(out, m.questions[aq.QuestionID])
	}
	return out, nil
}

func (m *Store) MarkAttemptStarted(_ context.Context, attemptID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.attempts[attemptID]
	if a.Status != domain.AttemptStatusAssigned {
		return false, nil
	}
	a.Status = domain.AttemptStatusInProgress
	a.StartTime = &at
	return true, nil
}

func (m *Store) CompleteAttempt(_ context.Context, attemptID string, at time.Time, res scoring.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.attempts[attemptID]
	if a.Status != domain.AttemptStatusInProgress {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("attempt %s is %s", attemptID, a.Status))
	}
	a.Status = domain.AttemptStatusCompleted
	a.EndTime = &at
	a.Score = &res.TotalScore
	a.TotalMarks = &res.TotalMarks
	a.Percentage = &res.Percentage
	a.Passed = &res.Passed
	m.answers[attemptID] = slices.Clone(res.ScoredAnswers)
	return nil
}

func (m *Store) ExpireAttempt(_ context.Context, attemptID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.attempts[attemptID]
	if !a.Status.Terminal() {
		a.Status = domain.AttemptStatusExpired
		a.EndTime = &at
	}
	return nil
}

func (m *Store) ListAttemptAnswers(_ context.Context, attemptID string) ([]domain.ScoredAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.answers[attemptID]), nil
}

// SetQuestionSet overwrites the question set of an attempt and marks its questions as selected.
func (m *Store) SetQuestionSet(attemptID string, qs []domain.AttemptQuestion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.attempts[attemptID]; ok && a.QuestionsSelectedAt == nil {
		now := time.Now()
		a.QuestionsSelectedAt = &now
	}
	m.sets[attemptID] = slices.Clone(qs)
}

func (m *Store) QuestionSet(attemptID string) []domain.AttemptQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.sets[attemptID])
}

// Attempt returns a copy of the attempt, or the zero value if it does not exist.
func (m *Store) Attempt(attemptID string) domain.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.attempts[attemptID]; ok {
		return *a
	}
	return domain.Attempt{}
}

func (m *Store) Answers(attemptID string) []domain.ScoredAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.answers[attemptID])
}

// Saves is the number of question sets stored by SaveAttemptQuestions.
func (m *Store) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saves
}
