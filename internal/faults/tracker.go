package faults

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionError is one classified fault, retained in the tracker's ring
// buffer. Identifying context is already sanitized before it gets here.
type SessionError struct {
	ID               uuid.UUID         `json:"id"`
	Kind             Kind              `json:"kind"`
	Severity         Severity          `json:"severity"`
	SanitizedContext map[string]string `json:"context,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
	Recovered        bool              `json:"recovered"`
	RetryCount       int               `json:"retry_count"`
}

// Health aggregates the retained errors into counts per kind and a
// stability score. Derived on demand, never stored.
type Health struct {
	Counts         map[Kind]int `json:"counts"`
	Total          int          `json:"total"`
	Recovered      int          `json:"recovered"`
	StabilityScore float64      `json:"stability_score"`
}

// DefaultCapacity bounds the retained error history.
const DefaultCapacity = 50

// Tracker classifies faults, sanitizes their context, and retains a bounded
// history. It performs no I/O beyond its ring buffer; logging is a side
// channel through the injected zerolog logger.
type Tracker struct {
	sanitizer *Sanitizer
	log       zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	ring []SessionError
	head int // next write position
	size int

	watchers []func(SessionError)
}

// NewTracker creates a tracker with the given ring capacity (0 uses
// DefaultCapacity).
func NewTracker(capacity int, sanitizer *Sanitizer, log zerolog.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		sanitizer: sanitizer,
		log:       log.With().Str("component", "fault_tracker").Logger(),
		now:       time.Now,
		ring:      make([]SessionError, capacity),
	}
}

// Classify records a fault and returns its recovery directive. The context
// map is sanitized before retention; err may be nil for state-machine
// faults that carry no underlying error.
func (t *Tracker) Classify(kind Kind, err error, context map[string]string) Directive {
	se := SessionError{
		ID:               uuid.New(),
		Kind:             kind,
		Severity:         SeverityFor(kind),
		SanitizedContext: t.sanitizer.Clean(context),
		OccurredAt:       t.now(),
	}

	t.mu.Lock()
	t.ring[t.head] = se
	t.head = (t.head + 1) % len(t.ring)
	if t.size < len(t.ring) {
		t.size++
	}
	watchers := t.watchers
	t.mu.Unlock()

	evt := t.log.Warn()
	if se.Severity == SeverityCritical {
		evt = t.log.Error()
	}
	evt.Err(err).
		Str("kind", string(kind)).
		Str("error_id", se.ID.String()).
		Msg("Fault classified")

	for _, w := range watchers {
		w(se)
	}

	return DirectiveFor(kind)
}

// MarkRecovered flags the most recent error of the given kind as recovered
// and records how many retries it took.
func (t *Tracker) MarkRecovered(kind Kind, retries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < t.size; i++ {
		idx := (t.head - 1 - i + len(t.ring)) % len(t.ring)
		if t.ring[idx].Kind == kind && !t.ring[idx].Recovered {
			t.ring[idx].Recovered = true
			t.ring[idx].RetryCount = retries
			return
		}
	}
}

// Watch registers a callback invoked for every classified fault. Used by
// the engine to push degraded-mode warnings to subscribers.
func (t *Tracker) Watch(fn func(SessionError)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers = append(t.watchers, fn)
}

// Recent returns the retained errors, oldest first.
func (t *Tracker) Recent() []SessionError {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionError, 0, t.size)
	start := (t.head - t.size + len(t.ring)) % len(t.ring)
	for i := 0; i < t.size; i++ {
		out = append(out, t.ring[(start+i)%len(t.ring)])
	}
	return out
}

// Health recomputes the aggregate over the retained history. An empty
// history scores 1.0; unrecovered criticals weigh heaviest.
func (t *Tracker) Health() Health {
	errs := t.Recent()

	h := Health{Counts: make(map[Kind]int)}
	if len(errs) == 0 {
		h.StabilityScore = 1.0
		return h
	}

	var penalty float64
	for _, e := range errs {
		h.Counts[e.Kind]++
		h.Total++
		if e.Recovered {
			h.Recovered++
			continue
		}
		switch e.Severity {
		case SeverityWarning:
			penalty += 0.05
		case SeverityError:
			penalty += 0.15
		case SeverityCritical:
			penalty += 0.40
		}
	}

	score := 1.0 - penalty
	if score < 0 {
		score = 0
	}
	h.StabilityScore = score
	return h
}
