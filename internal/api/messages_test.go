package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/quizd/internal/domain"
)

func TestToQuestions(t *testing.T) {
	qs := []domain.Question{
		{QuestionID: 9, Type: domain.QuestionTypeMCQ, Options: []domain.Option{{OptionID: 91, IsCorrect: true}}},
		{QuestionID: 4, Type: domain.QuestionTypeTrueFalse},
	}

	tests := map[string]struct {
		order []domain.AttemptQuestion
		want  []int
	}{
		"should keep the persisted order": {
			order: []domain.AttemptQuestion{{QuestionID: 9, Order: 2}, {QuestionID: 4, Order: 5}},
			want:  []int{2, 5},
		},
		"should number by position without a persisted order": {
			want: []int{1, 2},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out := toQuestions(qs, tt.order)

			got := make([]int, 0, len(out))
			for _, q := range out {
				got = append(got, q.Order)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []Option{{OptionID: 91}}, out[0].Options)
		})
	}
}
