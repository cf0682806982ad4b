package domain

const (
	EventNameAttemptStarted    = "attempt.started"
	EventNameAttemptCompleted  = "attempt.completed"
	EventNameQuizReportUpdated = "quiz.report.updated"
)

type EventAttemptStarted struct {
	Attempt   Attempt
	Questions []AttemptQuestion
}

func (EventAttemptStarted) Name() string { return EventNameAttemptStarted }

type EventAttemptCompleted struct {
	Attempt Attempt
	Result  AttemptResult
}

func (EventAttemptCompleted) Name() string { return EventNameAttemptCompleted }

type EventQuizReportUpdated struct {
	Report QuizReport
}

func (EventQuizReportUpdated) Name() string { return EventNameQuizReportUpdated }
