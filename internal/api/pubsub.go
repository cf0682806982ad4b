package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizd/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	AttemptCompleted struct {
		Attempt Attempt       `json:"attempt"`
		Result  AttemptResult `json:"result"`
	}

	QuizReportRank struct {
		QuizID   int64           `json:"quiz_id"`
		Attempts int64           `json:"attempts"`
		Entry    QuizReportEntry `json:"entry"`
	}
)

// PublishAttemptCompleted notifies the learner of their score. Per-question detail is never included.
func (a *API) PublishAttemptCompleted(ctx context.Context, e domain.EventAttemptCompleted) error {
	res := e.Result

	data := AttemptCompleted{
		Attempt: toAttempt(e.Attempt),
		Result: AttemptResult{
			TotalScore: res.TotalScore,
			TotalMarks: res.TotalMarks,
			Percentage: res.Percentage,
			Passed:     res.Passed,
		},
	}

	return a.publishNotification(ctx, a.userChannel(e.Attempt.UserID), e.Name(), data)
}

// PublishQuizReportUpdated sends the full report to the quiz channel and each participant their own rank.
func (a *API) PublishQuizReportUpdated(ctx context.Context, e domain.EventQuizReportUpdated) error {
	r := toQuizReport(e.Report)

	if err := a.publishNotification(ctx, a.quizChannel(r.QuizID), e.Name(), r); err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range r.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.UserID), e.Name(), QuizReportRank{
				QuizID:   r.QuizID,
				Attempts: r.Attempts,
				Entry:    entry,
			})
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) userChannel(userID int64) string {
	return fmt.Sprintf("%s:user:%d", a.prefix, userID)
}

func (a *API) quizChannel(quizID int64) string {
	return fmt.Sprintf("%s:quiz:%d", a.prefix, quizID)
}
