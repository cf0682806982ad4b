package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	attemptsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizd",
		Name:      "attempts_scored_total",
		Help:      "Number of attempts scored, by pass/fail.",
	}, []string{"passed"})

	attemptPercentage = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quizd",
		Name:      "attempt_percentage",
		Help:      "Percentage of scored attempts.",
		Buckets:   []float64{-25, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	questionSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizd",
		Name:      "question_selections_total",
		Help:      "Number of attempt starts, by whether the question set was created or reused.",
	}, []string{"result"})
)

const (
	SelectionCreated = "created"
	SelectionReused  = "reused"
)

func ObserveAttemptScored(percentage decimal.Decimal, passed bool) {
	attemptsScored.WithLabelValues(strconv.FormatBool(passed)).Inc()
	attemptPercentage.Observe(percentage.InexactFloat64())
}

func ObserveQuestionSelection(result string) {
	questionSelections.WithLabelValues(result).Inc()
}
