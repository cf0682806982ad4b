package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/quizd/internal/attempt"
	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/scoring"
)

// Request and response messages of quizd.v1.AttemptService. They travel as JSON on both gRPC and HTTP.
type (
	StartAttemptRequest struct {
		QuizID int64 `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
	}

	StartAttemptResponse struct {
		Attempt   Attempt    `json:"attempt"`
		Quiz      Quiz       `json:"quiz"`
		Questions []Question `json:"questions"`
	}

	GetAttemptQuestionsRequest struct {
		QuizID int64 `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
	}

	GetAttemptQuestionsResponse struct {
		Questions []Question `json:"questions"`
	}

	SubmitAttemptRequest struct {
		QuizID  int64    `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
		Answers []Answer `json:"answers"`
	}

	SubmitAttemptResponse struct {
		Attempt Attempt       `json:"attempt"`
		Result  AttemptResult `json:"result"`
	}

	GetAttemptResultRequest struct {
		QuizID int64 `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
		// UserID selects another user's attempt; admins only.
		UserID int64 `json:"user_id,omitempty" form:"user_id" validate:"gte=0"`
	}

	GetAttemptResultResponse struct {
		Attempt         Attempt        `json:"attempt"`
		Passed          bool           `json:"passed"`
		AnswersReleased bool           `json:"answers_released"`
		Answers         []ScoredAnswer `json:"answers,omitempty"`
	}

	AssignQuizRequest struct {
		QuizID  int64   `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
		UserIDs []int64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
	}

	AssignQuizResponse struct {
		Attempts []Attempt `json:"attempts"`
	}

	GetQuizReportRequest struct {
		QuizID int64 `json:"quiz_id" uri:"quiz_id" validate:"required,gt=0"`
	}

	GetQuizReportResponse struct {
		Report QuizReport `json:"report"`
	}

	ListUserResultsRequest struct {
		// UserID defaults to the caller. Listing another user requires the admin role.
		UserID int64 `json:"user_id,omitempty" uri:"user_id" validate:"gte=0"`
	}

	ListUserResultsResponse struct {
		Attempts []Attempt `json:"attempts"`
	}
)

type (
	Quiz struct {
		QuizID            int64           `json:"quiz_id"`
		Name              string          `json:"name"`
		MaxQuestions      int             `json:"max_questions"`
		NegativeMarking   bool            `json:"negative_marking"`
		Cutoff            decimal.Decimal `json:"cutoff"`
		TimeLimitSeconds  int64           `json:"time_limit_seconds,omitempty"`
		AnswerReleaseTime *time.Time      `json:"answer_release_time,omitempty"`
	}

	// Question is the learner view of a question: options never carry their correctness.
	Question struct {
		QuestionID   int64    `json:"question_id"`
		Order        int      `json:"order"`
		QuestionText string   `json:"question_text"`
		Type         string   `json:"type"`
		Marks        int      `json:"marks"`
		Options      []Option `json:"options"`
	}

	Option struct {
		OptionID   int64  `json:"option_id"`
		OptionText string `json:"option_text"`
	}

	// Answer is scored only if QuestionID is part of the attempt; other ids are skipped.
	Answer struct {
		QuestionID        int64   `json:"question_id"`
		SelectedOptionIDs []int64 `json:"selected_option_ids"`
	}

	ScoredAnswer struct {
		QuestionID        int64           `json:"question_id"`
		SelectedOptionIDs []int64         `json:"selected_option_ids"`
		IsCorrect         bool            `json:"is_correct"`
		MarksObtained     decimal.Decimal `json:"marks_obtained"`
	}

	Attempt struct {
		AttemptID  string           `json:"attempt_id"`
		UserID     int64            `json:"user_id"`
		QuizID     int64            `json:"quiz_id"`
		Status     string           `json:"status"`
		AssignedBy int64            `json:"assigned_by,omitempty"`
		AssignedAt time.Time        `json:"assigned_at"`
		StartTime  *time.Time       `json:"start_time,omitempty"`
		EndTime    *time.Time       `json:"end_time,omitempty"`
		Score      *decimal.Decimal `json:"score,omitempty"`
		TotalMarks *int             `json:"total_marks,omitempty"`
		Percentage *decimal.Decimal `json:"percentage,omitempty"`
		Passed     *bool            `json:"passed,omitempty"`
	}

	AttemptResult struct {
		TotalScore decimal.Decimal `json:"total_score"`
		TotalMarks int             `json:"total_marks"`
		Percentage decimal.Decimal `json:"percentage"`
		Passed     bool            `json:"passed"`
		// Answers is only filled once the quiz releases its answers.
		Answers []ScoredAnswer `json:"answers,omitempty"`
	}

	QuizReport struct {
		QuizID            int64             `json:"quiz_id"`
		Attempts          int64             `json:"attempts"`
		Passed            int64             `json:"passed"`
		AveragePercentage decimal.Decimal   `json:"average_percentage"`
		Entries           []QuizReportEntry `json:"entries"`
	}

	QuizReportEntry struct {
		Rank       int     `json:"rank"`
		UserID     int64   `json:"user_id"`
		Percentage float64 `json:"percentage"`
	}
)

func toQuiz(q domain.Quiz) Quiz {
	return Quiz{
		QuizID:            q.QuizID,
		Name:              q.Name,
		MaxQuestions:      q.MaxQuestions,
		NegativeMarking:   q.NegativeMarking,
		Cutoff:            q.Cutoff,
		TimeLimitSeconds:  int64(q.TimeLimit / time.Second),
		AnswerReleaseTime: q.AnswerReleaseTime,
	}
}

// toQuestions maps qs, which are in presentation order, using the persisted order of the attempt.
func toQuestions(qs []domain.Question, order []domain.AttemptQuestion) []Question {
	positions := make(map[int64]int, len(order))
	for _, aq := range order {
		positions[aq.QuestionID] = aq.Order
	}

	out := make([]Question, 0, len(qs))
	for i, q := range qs {
		pos, ok := positions[q.QuestionID]
		if !ok {
			pos = i + 1
		}

		options := make([]Option, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, Option{
				OptionID:   o.OptionID,
				OptionText: o.OptionText,
			})
		}

		out = append(out, Question{
			QuestionID:   q.QuestionID,
			Order:        pos,
			QuestionText: q.QuestionText,
			Type:         string(q.Type),
			Marks:        q.Marks,
			Options:      options,
		})
	}
	return out
}

func toAttempt(a domain.Attempt) Attempt {
	return Attempt{
		AttemptID:  a.AttemptID,
		UserID:     a.UserID,
		QuizID:     a.QuizID,
		Status:     string(a.Status),
		AssignedBy: a.AssignedBy,
		AssignedAt: a.AssignedAt,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		Score:      a.Score,
		TotalMarks: a.TotalMarks,
		Percentage: a.Percentage,
		Passed:     a.Passed,
	}
}

func toAttempts(as []domain.Attempt) []Attempt {
	out := make([]Attempt, 0, len(as))
	for _, a := range as {
		out = append(out, toAttempt(a))
	}
	return out
}

func toAnswers(as []Answer) []domain.Answer {
	out := make([]domain.Answer, 0, len(as))
	for _, a := range as {
		out = append(out, domain.Answer{
			QuestionID:        a.QuestionID,
			SelectedOptionIDs: a.SelectedOptionIDs,
		})
	}
	return out
}

func toScoredAnswers(as []domain.ScoredAnswer) []ScoredAnswer {
	if as == nil {
		return nil
	}

	out := make([]ScoredAnswer, 0, len(as))
	for _, a := range as {
		selected := a.SelectedOptionIDs
		if selected == nil {
			selected = []int64{}
		}
		out = append(out, ScoredAnswer{
			QuestionID:        a.QuestionID,
			SelectedOptionIDs: selected,
			IsCorrect:         a.IsCorrect,
			MarksObtained:     a.MarksObtained,
		})
	}
	return out
}

func toAttemptResult(res scoring.Result, released bool) AttemptResult {
	r := AttemptResult{
		TotalScore: res.TotalScore,
		TotalMarks: res.TotalMarks,
		Percentage: res.Percentage,
		Passed:     res.Passed,
	}
	if released {
		r.Answers = toScoredAnswers(res.ScoredAnswers)
	}
	return r
}

func toQuizReport(r domain.QuizReport) QuizReport {
	entries := make([]QuizReportEntry, 0, len(r.Entries))
	for i, e := range r.Entries {
		entries = append(entries, QuizReportEntry{
			Rank:       i + 1,
			UserID:     e.UserID,
			Percentage: e.Percentage,
		})
	}

	return QuizReport{
		QuizID:            r.QuizID,
		Attempts:          r.Attempts,
		Passed:            r.Passed,
		AveragePercentage: r.AveragePercentage,
		Entries:           entries,
	}
}

func toResultResponse(resp *attempt.GetAttemptResultResponse) *GetAttemptResultResponse {
	return &GetAttemptResultResponse{
		Attempt:         toAttempt(resp.Attempt),
		Passed:          resp.Passed,
		AnswersReleased: resp.AnswersReleased,
		Answers:         toScoredAnswers(resp.Answers),
	}
}
