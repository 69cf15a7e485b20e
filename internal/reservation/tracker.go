package reservation

import (
	"sync"

	"order-fulfillment/internal/apperr"

	"go.uber.org/zap"
)

type Outcome int

const (
	OutcomeStaged Outcome = iota
	OutcomeMalformed
	OutcomeFailed
)

// Classify maps a HandleReservationMessage result to the transport action:
// staged messages are acknowledged, malformed ones dropped, the rest redelivered.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeStaged
	case apperr.Is(err, apperr.MalformedMessage):
		return OutcomeMalformed
	default:
		return OutcomeFailed
	}
}

// Tracker counts message outcomes across workers.
type Tracker struct {
	mu     sync.Mutex
	counts map[Outcome]int64
}

func NewTracker() *Tracker {
	return &Tracker{counts: make(map[Outcome]int64)}
}

func (t *Tracker) Record(outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[outcome]++
}

func (t *Tracker) Count(outcome Outcome) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[outcome]
}

// LogSummary logs the final counts when shutting down.
func (t *Tracker) LogSummary(logger *zap.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger.Info("Reservation consumer summary",
		zap.Int64("staged", t.counts[OutcomeStaged]),
		zap.Int64("malformed", t.counts[OutcomeMalformed]),
		zap.Int64("failed", t.counts[OutcomeFailed]),
	)
}
