package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]string
		}
	)

	started := domain.EventAttemptStarted{Attempt: domain.Attempt{AttemptID: "a1"}}
	completed := domain.EventAttemptCompleted{Attempt: domain.Attempt{AttemptID: "a1"}}
	report := domain.EventQuizReportUpdated{Report: domain.QuizReport{QuizID: 1}}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{started, completed},
					subscribers: []subscriber{
						{name: "report", subscribeTo: []string{domain.EventNameAttemptCompleted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, []string{domain.EventNameAttemptCompleted}, out.received["report"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{completed},
					subscribers: []subscriber{
						{name: "report", subscribeTo: []string{domain.EventNameAttemptCompleted}},
						{name: "notify", subscribeTo: []string{domain.EventNameAttemptCompleted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, []string{domain.EventNameAttemptCompleted}, out.received["report"])
				assert.Equal(t, []string{domain.EventNameAttemptCompleted}, out.received["notify"])
			},
		},

		"multiple events should be dispatched to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{started, completed, report, completed},
					subscribers: []subscriber{
						{name: "report", subscribeTo: []string{domain.EventNameAttemptCompleted}},
						{name: "notify", subscribeTo: []string{domain.EventNameAttemptCompleted, domain.EventNameQuizReportUpdated}},
						{name: "audit", subscribeTo: []string{domain.EventNameAttemptStarted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []string{domain.EventNameAttemptCompleted, domain.EventNameAttemptCompleted}, out.received["report"])
				assert.ElementsMatch(t, []string{
					domain.EventNameAttemptCompleted,
					domain.EventNameAttemptCompleted,
					domain.EventNameQuizReportUpdated,
				}, out.received["notify"])
				assert.ElementsMatch(t, []string{domain.EventNameAttemptStarted}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]string)}

			b := event.NewBus(event.WithPoolSize(4))
			for _, s := range in.subscribers {
				for _, name := range s.subscribeTo {
					b.Subscribe(name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e.Name())
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			require.NoError(t, b.Stop(context.Background()))

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailureDoesNotAffectOthers(t *testing.T) {
	b := event.NewBus()

	var calls atomic.Int32
	b.Subscribe(domain.EventNameAttemptCompleted, func(context.Context, event.Event) error {
		panic("boom")
	})
	b.Subscribe(domain.EventNameAttemptCompleted, func(context.Context, event.Event) error {
		return errors.New("failed")
	})
	b.Subscribe(domain.EventNameAttemptCompleted, func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), domain.EventAttemptCompleted{})
	require.NoError(t, b.Stop(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_HandlerGetsTimeout(t *testing.T) {
	b := event.NewBus(event.WithTimeout(10 * time.Millisecond))

	var deadlineSet atomic.Bool
	b.Subscribe(domain.EventNameAttemptStarted, func(ctx context.Context, _ event.Event) error {
		_, ok := ctx.Deadline()
		deadlineSet.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Publish(ctx, domain.EventAttemptStarted{})
	cancel()

	require.NoError(t, b.Stop(context.Background()))
	assert.True(t, deadlineSet.Load())
}

func TestBus_StopHonorsContext(t *testing.T) {
	b := event.NewBus()

	release := make(chan struct{})
	b.Subscribe(domain.EventNameAttemptStarted, func(context.Context, event.Event) error {
		<-release
		return nil
	})
	b.Publish(context.Background(), domain.EventAttemptStarted{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, b.Stop(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, b.Stop(context.Background()))
}

type subscriber struct {
	name        string
	subscribeTo []string
}
