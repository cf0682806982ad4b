package report_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/errors"
	"github.com/victornm/quizd/internal/event"
	"github.com/victornm/quizd/internal/report"
)

func TestService_RecordResult(t *testing.T) {
	s, _ := makeService(t)

	for _, e := range []domain.EventAttemptCompleted{
		completed(1, 10, "62.5", true),
		completed(1, 11, "87.5", true),
		completed(1, 12, "-12.5", false),
	} {
		require.NoError(t, s.RecordResult(context.Background(), e))
	}

	resp, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{
		QuizID: 1,
	})
	require.NoError(t, err)

	require.Equal(t, int64(1), resp.QuizID)
	require.Equal(t, int64(3), resp.Attempts)
	require.Equal(t, int64(2), resp.Passed)
	require.Equal(t, "45.83", resp.AveragePercentage.String())
	require.Equal(t, []domain.QuizReportEntry{
		{UserID: 11, Percentage: 87.5},
		{UserID: 10, Percentage: 62.5},
		{UserID: 12, Percentage: -12.5},
	}, resp.Entries)
}

func TestService_RecordResult_CountsAttemptOnce(t *testing.T) {
	s, _ := makeService(t)

	e := completed(1, 10, "50", true)
	require.NoError(t, s.RecordResult(context.Background(), e))
	require.NoError(t, s.RecordResult(context.Background(), e))

	resp, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.Attempts)
	require.Len(t, resp.Entries, 1)
}

func TestService_GetQuizReport_NotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 404})
	require.True(t, errors.HasCode(err, errors.CodeNotFound), "got %v", err)
}

func TestService_PublishReportUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAttemptCompleted
		}

		outputs struct {
			publishedEvents []domain.EventQuizReportUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish quiz.report.updated after receiving attempt.completed": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptCompleted{
						completed(1, 10, "75", true),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 report updated event")
				r := out.publishedEvents[0].Report
				require.Equal(t, int64(1), r.QuizID)
				require.Equal(t, []domain.QuizReportEntry{{UserID: 10, Percentage: 75}}, r.Entries)
			},
		},

		"should publish 2 events for 2 different quizzes": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptCompleted{
						completed(1, 10, "75", true),
						completed(2, 10, "25", false),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 report updated events")
			},
		},

		"should publish 1 event for the same quiz within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptCompleted{
						completed(1, 10, "75", true),
						completed(1, 11, "25", false),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 report updated event")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameQuizReportUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventQuizReportUpdated))
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t,
				withEventBus(eb),
				withPublishInterval(time.Minute),
			)

			for _, e := range in.receivedEvents {
				err := s.RecordResult(context.Background(), e)
				require.NoError(t, err)
			}

			require.NoError(t, eb.Stop(context.Background()))

			tt.assert(t, out)
		})
	}
}

func TestService_SubscribesToAttemptCompleted(t *testing.T) {
	eb := event.NewBus()
	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), completed(3, 10, "100", true))
	require.NoError(t, eb.Stop(context.Background()))

	resp, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 3})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.Passed)
}

func TestService_RecordResult_RetryAfterFailure(t *testing.T) {
	s, rs := makeService(t)
	e := completed(1, 10, "80", true)

	rs.SetError("ERR injected failure")
	require.Error(t, s.RecordResult(context.Background(), e))

	rs.SetError("")
	require.NoError(t, s.RecordResult(context.Background(), e))
	require.NoError(t, s.RecordResult(context.Background(), e))

	resp, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.Attempts)
	require.Equal(t, int64(1), resp.Passed)
	require.Equal(t, "80", resp.AveragePercentage.String())
	require.Equal(t, []domain.QuizReportEntry{{UserID: 10, Percentage: 80}}, resp.Entries)
}

func TestService_GetQuizReport_RebuildsFromStore(t *testing.T) {
	type outputs struct {
		report *domain.QuizReport
		err    error
	}

	tests := map[string]struct {
		store  attemptStore
		assert func(t *testing.T, rs *miniredis.Miniredis, out outputs)
	}{
		"should rebuild a flushed report from completed attempts": {
			store: attemptStore{
				attemptOf(1, 11, "90", true),
				attemptOf(1, 10, "40", false),
				attemptOf(1, 12, "20", false),
			},

			assert: func(t *testing.T, rs *miniredis.Miniredis, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, int64(3), out.report.Attempts)
				require.Equal(t, int64(1), out.report.Passed)
				require.Equal(t, "50", out.report.AveragePercentage.String())
				require.Equal(t, []domain.QuizReportEntry{
					{UserID: 11, Percentage: 90},
					{UserID: 10, Percentage: 40},
					{UserID: 12, Percentage: 20},
				}, out.report.Entries)

				require.True(t, rs.Exists("quizd:quiz:{1}:results"), "rebuilt report should be cached")
				require.Equal(t, "3", rs.HGet("quizd:quiz:{1}:stats", "attempts"))
			},
		},

		"should give not found when the quiz has no completed attempt": {
			assert: func(t *testing.T, _ *miniredis.Miniredis, out outputs) {
				require.True(t, errors.HasCode(out.err, errors.CodeNotFound), "got %v", out.err)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, rs := makeService(t, withStore(tt.store))

			// Recorded, then lost.
			require.NoError(t, s.RecordResult(context.Background(), completed(1, 99, "10", false)))
			rs.FlushAll()

			r, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 1})
			tt.assert(t, rs, outputs{report: r, err: err})
		})
	}
}

func TestService_RecordResult_AfterRebuild(t *testing.T) {
	s, _ := makeService(t, withStore(attemptStore{attemptOf(1, 10, "60", true)}))

	_, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 1})
	require.NoError(t, err)

	// Already part of the rebuilt report.
	require.NoError(t, s.RecordResult(context.Background(), completed(1, 10, "60", true)))
	require.NoError(t, s.RecordResult(context.Background(), completed(1, 11, "80", true)))

	resp, err := s.GetQuizReport(context.Background(), report.GetQuizReportRequest{QuizID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.Attempts)
	require.Equal(t, int64(2), resp.Passed)
	require.Equal(t, "70", resp.AveragePercentage.String())
}

type attemptStore []domain.Attempt

func (s attemptStore) ListQuizAttempts(_ context.Context, quizID int64) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for _, a := range s {
		if a.QuizID == quizID {
			out = append(out, a)
		}
	}
	return out, nil
}

func attemptOf(quizID, userID int64, percentage string, passed bool) domain.Attempt {
	e := completed(quizID, userID, percentage, passed)
	e.Attempt.Passed = &passed
	return e.Attempt
}

func completed(quizID, userID int64, percentage string, passed bool) domain.EventAttemptCompleted {
	pct := decimal.RequireFromString(percentage)

	return domain.EventAttemptCompleted{
		Attempt: domain.Attempt{
			AttemptID:  "a",
			UserID:     userID,
			QuizID:     quizID,
			Status:     domain.AttemptStatusCompleted,
			Percentage: &pct,
		},
		Result: domain.AttemptResult{
			Percentage: pct,
			Passed:     passed,
		},
	}
}

func makeService(t *testing.T, opts ...options) (*report.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := report.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "quizd",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return report.NewService(c), rs
}

type options func(c *report.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *report.Config) {
		c.EventBus = eb
	}
}

func withStore(store report.Store) options {
	return func(c *report.Config) {
		c.Store = store
	}
}

func withPublishInterval(d time.Duration) options {
	return func(c *report.Config) {
		c.PublishInterval = d
	}
}
