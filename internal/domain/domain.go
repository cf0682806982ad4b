package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type QuestionType string

const (
	QuestionTypeMCQ            QuestionType = "mcq"
	QuestionTypeMultipleSelect QuestionType = "multiple_select"
	QuestionTypeTrueFalse      QuestionType = "true_false"
)

// Quiz is the part of a quiz configuration the attempt lifecycle depends on.
type Quiz struct {
	QuizID          int64
	Name            string
	MaxQuestions    int
	NegativeMarking bool
	// Cutoff is the minimum percentage (0-100) required to pass.
	Cutoff decimal.Decimal
	// TimeLimit is zero when the quiz is untimed.
	TimeLimit         time.Duration
	AnswerReleaseTime *time.Time
}

// AnswersReleased reports whether per-question detail may be shown at time now.
func (q Quiz) AnswersReleased(now time.Time) bool {
	return q.AnswerReleaseTime == nil || !now.Before(*q.AnswerReleaseTime)
}

type Question struct {
	QuestionID   int64
	QuestionText string
	Type         QuestionType
	Marks        int
	Explanation  string
	Options      []Option
}

type Option struct {
	OptionID   int64
	OptionText string
	IsCorrect  bool
}

// Invariant checks the number of correct options against the question type.
func (q Question) Invariant() error {
	var correct int
	for _, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
	}

	switch q.Type {
	case QuestionTypeMCQ, QuestionTypeTrueFalse:
		if correct != 1 {
			return fmt.Errorf("question %d (%s): want exactly 1 correct option, got %d", q.QuestionID, q.Type, correct)
		}
	case QuestionTypeMultipleSelect:
		if correct < 1 {
			return fmt.Errorf("question %d (%s): want at least 1 correct option", q.QuestionID, q.Type)
		}
	default:
		return fmt.Errorf("question %d: unknown type %q", q.QuestionID, q.Type)
	}

	if q.Marks <= 0 {
		return fmt.Errorf("question %d: marks must be positive, got %d", q.QuestionID, q.Marks)
	}

	return nil
}

type AttemptStatus string

const (
	AttemptStatusAssigned   AttemptStatus = "assigned"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusExpired
}

// Attempt represents one user's run through a quiz.
type Attempt struct {
	AttemptID  string
	UserID     int64
	QuizID     int64
	Status     AttemptStatus
	AssignedBy int64
	AssignedAt time.Time
	StartTime  *time.Time
	EndTime    *time.Time
	// QuestionsSelectedAt is set once the question set is fixed, even when the set is empty.
	QuestionsSelectedAt *time.Time
	// Score, TotalMarks, Percentage and Passed are set once the attempt is completed.
	Score      *decimal.Decimal
	TotalMarks *int
	Percentage *decimal.Decimal
	Passed     *bool
}

// Deadline returns the time after which a submission is late, if the quiz is timed and the attempt started.
func (a Attempt) Deadline(q Quiz) (time.Time, bool) {
	if q.TimeLimit <= 0 || a.StartTime == nil {
		return time.Time{}, false
	}
	return a.StartTime.Add(q.TimeLimit), true
}

// AttemptQuestion is one entry of the ordered question set fixed for an attempt.
type AttemptQuestion struct {
	QuestionID int64
	// Order is 1-based.
	Order int
}

// Answer is a learner's untrusted selection for one question.
type Answer struct {
	QuestionID        int64
	SelectedOptionIDs []int64
}

// ScoredAnswer is the evaluated form of an Answer.
type ScoredAnswer struct {
	QuestionID        int64
	SelectedOptionIDs []int64
	IsCorrect         bool
	MarksObtained     decimal.Decimal
}

type AttemptResult struct {
	TotalScore decimal.Decimal
	TotalMarks int
	Percentage decimal.Decimal
	Passed     bool
}

// QuizReport aggregates completed attempts of a quiz. Entries are sorted by percentage in descending order.
type QuizReport struct {
	QuizID            int64
	Attempts          int64
	Passed            int64
	AveragePercentage decimal.Decimal
	Entries           []QuizReportEntry
}

type QuizReportEntry struct {
	UserID     int64
	Percentage float64
}
