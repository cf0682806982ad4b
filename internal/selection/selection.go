// Package selection draws the per-attempt question subset from a quiz's pool.
//
// Selection is a pure computation. Keeping the same subset across retries and resumed
// attempts is the job of the store, which persists the first selection with an atomic
// insert-if-absent and serves it back afterwards.
package selection

import (
	"math/rand/v2"

	"github.com/victornm/quizd/internal/domain"
)

// Selector samples questions without replacement. The zero value uses the auto-seeded
// global source and is safe for concurrent use.
type Selector struct {
	rnd *rand.Rand
}

type Option func(*Selector)

// WithRand makes the selector draw from r. A *rand.Rand is not safe for concurrent use,
// so this is meant for tests that need a reproducible draw.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.rnd = r
	}
}

func New(opts ...Option) *Selector {
	s := &Selector{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns min(maxQuestions, number of distinct ids in pool) questions in random
// order, numbered from 1. The pool slice is not modified.
func Select(pool []int64, maxQuestions int) []domain.AttemptQuestion {
	return (&Selector{}).Select(pool, maxQuestions)
}

func (s *Selector) Select(pool []int64, maxQuestions int) []domain.AttemptQuestion {
	ids := distinct(pool)

	k := min(maxQuestions, len(ids))
	if k <= 0 {
		return []domain.AttemptQuestion{}
	}

	// Partial Fisher-Yates: after step i, ids[:i+1] is a uniform sample of size i+1.
	for i := 0; i < k; i++ {
		j := i + s.intN(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}

	out := make([]domain.AttemptQuestion, k)
	for i, id := range ids[:k] {
		out[i] = domain.AttemptQuestion{
			QuestionID: id,
			Order:      i + 1,
		}
	}

	return out
}

func (s *Selector) intN(n int) int {
	if s.rnd != nil {
		return s.rnd.IntN(n)
	}
	return rand.IntN(n)
}

func distinct(pool []int64) []int64 {
	seen := make(map[int64]struct{}, len(pool))
	out := make([]int64, 0, len(pool))
	for _, id := range pool {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
