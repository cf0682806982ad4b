// Package scoring turns a learner's raw selections into marks.
//
// Score is a pure function of the authoritative questions and the submitted answers. It is
// defined for every input and never fails; callers guarantee it runs at most once per attempt.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/quizd/internal/domain"
)

// penaltyRate is the fraction of a question's marks deducted for a wrong answer when
// negative marking is on. It is the same for every question type.
var penaltyRate = decimal.RequireFromString("0.25")

var hundred = decimal.NewFromInt(100)

// percentagePlaces is the number of decimal places kept in a percentage.
const percentagePlaces = 2

type Request struct {
	// Questions is the authoritative set, loaded server side with options and correctness flags.
	Questions       []domain.Question
	NegativeMarking bool
	Cutoff          decimal.Decimal
	// Answers is the untrusted learner payload.
	Answers []domain.Answer
}

type Result struct {
	domain.AttemptResult
	ScoredAnswers []domain.ScoredAnswer
}

// Score evaluates every answer whose question is in the authoritative set and aggregates the attempt.
func Score(req Request) Result {
	questions := make(map[int64]domain.Question, len(req.Questions))
	for _, q := range req.Questions {
		questions[q.QuestionID] = q
	}

	// Last answer for a question wins.
	last := make(map[int64]int, len(req.Answers))
	for i, a := range req.Answers {
		last[a.QuestionID] = i
	}

	res := Result{
		AttemptResult: domain.AttemptResult{
			TotalScore: decimal.Zero,
			Percentage: decimal.Zero,
		},
		ScoredAnswers: []domain.ScoredAnswer{},
	}

	for i, a := range req.Answers {
		if last[a.QuestionID] != i {
			continue
		}

		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}

		correct := IsCorrect(q, a.SelectedOptionIDs)
		marks := Marks(q, correct, req.NegativeMarking)

		res.ScoredAnswers = append(res.ScoredAnswers, domain.ScoredAnswer{
			QuestionID:        q.QuestionID,
			SelectedOptionIDs: a.SelectedOptionIDs,
			IsCorrect:         correct,
			MarksObtained:     marks,
		})

		res.TotalScore = res.TotalScore.Add(marks)
		res.TotalMarks += q.Marks
	}

	res.Percentage = Percentage(res.TotalScore, res.TotalMarks)
	res.Passed = res.Percentage.GreaterThanOrEqual(req.Cutoff)

	return res
}

// IsCorrect applies the all-or-nothing rule of the question type to a selection.
// Selected ids are compared as a set.
func IsCorrect(q domain.Question, selected []int64) bool {
	correct := CorrectOptionIDs(q)
	picked := toSet(selected)

	switch q.Type {
	case domain.QuestionTypeMCQ, domain.QuestionTypeTrueFalse:
		if len(picked) != 1 {
			return false
		}
		for id := range picked {
			_, ok := correct[id]
			return ok
		}
		return false

	case domain.QuestionTypeMultipleSelect:
		return setEqual(picked, correct)

	default:
		return false
	}
}

// CorrectOptionIDs returns the ids of the options flagged correct.
func CorrectOptionIDs(q domain.Question) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(q.Options))
	for _, o := range q.Options {
		if o.IsCorrect {
			ids[o.OptionID] = struct{}{}
		}
	}
	return ids
}

// Marks returns the marks obtained for a question. Correct answers are never penalized.
func Marks(q domain.Question, correct, negativeMarking bool) decimal.Decimal {
	marks := decimal.NewFromInt(int64(q.Marks))

	switch {
	case correct:
		return marks
	case negativeMarking:
		return marks.Mul(penaltyRate).Neg()
	default:
		return decimal.Zero
	}
}

// Percentage returns totalScore/totalMarks*100 rounded half away from zero to two places,
// or zero when totalMarks is zero. Negative values are kept.
func Percentage(totalScore decimal.Decimal, totalMarks int) decimal.Decimal {
	if totalMarks <= 0 {
		return decimal.Zero
	}
	return totalScore.Mul(hundred).Div(decimal.NewFromInt(int64(totalMarks))).Round(percentagePlaces)
}

func toSet(ids []int64) map[int64]struct{} {
	s := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func setEqual(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
