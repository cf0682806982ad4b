package report

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/errors"
	"github.com/victornm/quizd/internal/event"
)

const (
	defaultPublishInterval = 200 * time.Millisecond

	fieldAttempts      = "attempts"
	fieldPassed        = "passed"
	fieldPercentageSum = "percentage_sum"
)

// recordResultScript adds a result to the ranking and the stats in one step, so a retried record never
// finds the ranking updated without the stats.
//
// KEYS: results, stats. ARGV: user ID, percentage, passed (0 or 1).
var recordResultScript = redis.NewScript(`
if redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[2], 'attempts', 1)
redis.call('HINCRBY', KEYS[2], 'passed', ARGV[3])
redis.call('HINCRBYFLOAT', KEYS[2], 'percentage_sum', ARGV[2])
return 1
`)

// Store is the authoritative source of completed attempts, used when Redis has no report for a quiz.
type Store interface {
	ListQuizAttempts(ctx context.Context, quizID int64) ([]domain.Attempt, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
	// PublishInterval is the minimum time between two quiz.report.updated events of the same quiz.
	PublishInterval time.Duration
}

type Service struct {
	eb       *event.Bus
	store    Store
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}

	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}

	s.eb.Subscribe(domain.EventNameAttemptCompleted, func(ctx context.Context, e event.Event) error {
		return s.RecordResult(ctx, e.(domain.EventAttemptCompleted))
	})

	return s
}

type GetQuizReportRequest struct {
	QuizID int64
}

// GetQuizReport returns the results of a quiz ranked by percentage, with pass and average statistics.
// A quiz missing from Redis is rebuilt from the store.
func (s *Service) GetQuizReport(ctx context.Context, req GetQuizReportRequest) (*domain.QuizReport, error) {
	var (
		ranking *redis.ZSliceCmd
		stats   *redis.MapStringStringCmd
	)

	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		ranking = p.ZRevRangeWithScores(ctx, s.resultsKey(req.QuizID), 0, -1)
		stats = p.HGetAll(ctx, s.statsKey(req.QuizID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get quiz report: %w", err)
	}

	res := ranking.Val()
	if len(res) == 0 {
		return s.rebuild(ctx, req.QuizID)
	}

	entries := make([]domain.QuizReportEntry, 0, len(res))
	for _, z := range res {
		userID, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse report member %v: %w", z.Member, err)
		}
		entries = append(entries, domain.QuizReportEntry{
			UserID:     userID,
			Percentage: z.Score,
		})
	}

	r := &domain.QuizReport{
		QuizID:  req.QuizID,
		Entries: entries,
	}

	st := stats.Val()
	r.Attempts, _ = strconv.ParseInt(st[fieldAttempts], 10, 64)
	r.Passed, _ = strconv.ParseInt(st[fieldPassed], 10, 64)

	if sum, err := decimal.NewFromString(st[fieldPercentageSum]); err == nil && r.Attempts > 0 {
		r.AveragePercentage = sum.Div(decimal.NewFromInt(r.Attempts)).Round(2)
	}

	return r, nil
}

// RecordResult adds a completed attempt to its quiz report. An attempt already in the report is not counted twice.
func (s *Service) RecordResult(ctx context.Context, e domain.EventAttemptCompleted) error {
	a, res := e.Attempt, e.Result

	passed := 0
	if res.Passed {
		passed = 1
	}

	added, err := recordResultScript.Run(ctx, s.redis,
		[]string{s.resultsKey(a.QuizID), s.statsKey(a.QuizID)},
		strconv.FormatInt(a.UserID, 10), res.Percentage.String(), passed,
	).Int64()
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	if added == 0 {
		return nil
	}

	return s.schedulePublishReport(ctx, a.QuizID)
}

// schedulePublishReport publishes at most one report per quiz and interval, since many attempts of
// the same quiz tend to complete close together.
func (s *Service) schedulePublishReport(ctx context.Context, quizID int64) error {
	ok, err := s.redis.SetNX(ctx, s.timeKey(quizID), time.Now().UnixMilli(), s.interval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishReport(ctx, quizID)
}

func (s *Service) publishReport(ctx context.Context, quizID int64) error {
	r, err := s.GetQuizReport(ctx, GetQuizReportRequest{
		QuizID: quizID,
	})
	if err != nil {
		return fmt.Errorf("get quiz report failed: quiz=%d: %w", quizID, err)
	}

	s.eb.Publish(ctx, domain.EventQuizReportUpdated{
		Report: *r,
	})

	return nil
}

// rebuild computes the report of a quiz from the store and writes it back to Redis, unless a result
// was recorded in the meantime.
func (s *Service) rebuild(ctx context.Context, quizID int64) (*domain.QuizReport, error) {
	if s.store == nil {
		return nil, errors.NotFoundf("report not found: quiz=%d", quizID)
	}

	attempts, err := s.store.ListQuizAttempts(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}

	r := &domain.QuizReport{QuizID: quizID}
	sum := decimal.Zero
	members := make([]redis.Z, 0, len(attempts))

	for _, a := range attempts {
		if a.Percentage == nil {
			continue
		}

		pct := a.Percentage.InexactFloat64()
		r.Attempts++
		if a.Passed != nil && *a.Passed {
			r.Passed++
		}
		sum = sum.Add(*a.Percentage)

		r.Entries = append(r.Entries, domain.QuizReportEntry{UserID: a.UserID, Percentage: pct})
		members = append(members, redis.Z{Score: pct, Member: strconv.FormatInt(a.UserID, 10)})
	}

	if r.Attempts == 0 {
		return nil, errors.NotFoundf("report not found: quiz=%d", quizID)
	}
	r.AveragePercentage = sum.Div(decimal.NewFromInt(r.Attempts)).Round(2)

	results, stats := s.resultsKey(quizID), s.statsKey(quizID)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, results).Result()
		if err != nil || n > 0 {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, stats)
			p.ZAdd(ctx, results, members...)
			p.HSet(ctx, stats,
				fieldAttempts, r.Attempts,
				fieldPassed, r.Passed,
				fieldPercentageSum, sum.String(),
			)
			return nil
		})
		return err
	}, results)
	if err != nil && !stderrors.Is(err, redis.TxFailedErr) {
		slog.WarnContext(ctx, "report: write rebuilt report failed", "quiz_id", quizID, "error", err)
	}

	slog.InfoContext(ctx, "report: rebuilt from store", "quiz_id", quizID, "attempts", r.Attempts)
	return r, nil
}

func (s *Service) resultsKey(quizID int64) string {
	return fmt.Sprintf("%s:quiz:{%d}:results", s.prefix, quizID)
}

func (s *Service) statsKey(quizID int64) string {
	return fmt.Sprintf("%s:quiz:{%d}:stats", s.prefix, quizID)
}

func (s *Service) timeKey(quizID int64) string {
	return fmt.Sprintf("%s:quiz:{%d}:time", s.prefix, quizID)
}
