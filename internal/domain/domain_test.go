package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/quizd/internal/domain"
)

func TestQuestion_Invariant(t *testing.T) {
	opts := func(correct ...bool) []domain.Option {
		out := make([]domain.Option, 0, len(correct))
		for i, c := range correct {
			out = append(out, domain.Option{OptionID: int64(i + 1), IsCorrect: c})
		}
		return out
	}

	tests := map[string]struct {
		q       domain.Question
		wantErr bool
	}{
		"mcq with one correct option": {
			q: domain.Question{Type: domain.QuestionTypeMCQ, Marks: 1, Options: opts(true, false, false)},
		},
		"mcq with two correct options": {
			q:       domain.Question{Type: domain.QuestionTypeMCQ, Marks: 1, Options: opts(true, true)},
			wantErr: true,
		},
		"true_false without a correct option": {
			q:       domain.Question{Type: domain.QuestionTypeTrueFalse, Marks: 1, Options: opts(false, false)},
			wantErr: true,
		},
		"multiple_select with several correct options": {
			q: domain.Question{Type: domain.QuestionTypeMultipleSelect, Marks: 3, Options: opts(true, true, false)},
		},
		"multiple_select without a correct option": {
			q:       domain.Question{Type: domain.QuestionTypeMultipleSelect, Marks: 3, Options: opts(false)},
			wantErr: true,
		},
		"unknown type": {
			q:       domain.Question{Type: "essay", Marks: 1, Options: opts(true)},
			wantErr: true,
		},
		"zero marks": {
			q:       domain.Question{Type: domain.QuestionTypeMCQ, Options: opts(true)},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.q.Invariant()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestQuiz_AnswersReleased(t *testing.T) {
	release := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, domain.Quiz{}.AnswersReleased(release), "no release time means released")

	q := domain.Quiz{AnswerReleaseTime: &release}
	assert.False(t, q.AnswersReleased(release.Add(-time.Second)))
	assert.True(t, q.AnswersReleased(release))
	assert.True(t, q.AnswersReleased(release.Add(time.Second)))
}

func TestAttempt_Deadline(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, ok := domain.Attempt{StartTime: &start}.Deadline(domain.Quiz{})
	assert.False(t, ok, "untimed quiz")

	_, ok = domain.Attempt{}.Deadline(domain.Quiz{TimeLimit: time.Minute})
	assert.False(t, ok, "attempt not started")

	d, ok := domain.Attempt{StartTime: &start}.Deadline(domain.Quiz{TimeLimit: 10 * time.Minute})
	assert.True(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), d)
}

func TestAttemptStatus_Terminal(t *testing.T) {
	for s, want := range map[domain.AttemptStatus]bool{
		domain.AttemptStatusAssigned:   false,
		domain.AttemptStatusInProgress: false,
		domain.AttemptStatusCompleted:  true,
		domain.AttemptStatusExpired:    true,
	} {
		assert.Equal(t, want, s.Terminal(), s)
	}
}
