package syncqueue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/medquizpro/session-engine/internal/remote"
	"github.com/rs/zerolog"
)

// Config tunes a Queue's retry policy.
type Config struct {
	BackoffBase  time.Duration // first retry delay, doubled per attempt
	BackoffCap   time.Duration // upper bound on the delay
	RetryCeiling int           // attempts before a mutation is dropped as exhausted
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		BackoffBase:  500 * time.Millisecond,
		BackoffCap:   30 * time.Second,
		RetryCeiling: 8,
	}
}

// Queue is a per-session FIFO delivery queue. At most one mutation is
// in flight at a time, so acknowledgements can never arrive out of order.
// A failed head is retried in place with backoff; the rest of the queue
// waits behind it, preserving mutation order.
//
// Enqueue may be called from any goroutine; delivery runs on the queue's
// own worker goroutine and results are reported through the onResult
// callback, which the controller uses to advance sync state under its own
// lock.
type Queue struct {
	cfg      Config
	delivery Deliverer
	onResult func(Result)
	log      zerolog.Logger

	mu     sync.Mutex
	rand   *rand.Rand
	items  []Mutation
	paused bool
	closed bool
	signal chan struct{}
	done   chan struct{}

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// pendingCompletion carries the score payload of a delivered complete
	// mutation from deliver to report. Worker goroutine only.
	pendingCompletion *remote.CompletionResult
}

// New creates a queue and starts its worker. onResult is invoked from the
// worker goroutine for every delivered, failed, or exhausted mutation.
func New(cfg Config, delivery Deliverer, onResult func(Result), log zerolog.Logger) *Queue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultConfig().RetryCeiling
	}
	q := &Queue{
		cfg:      cfg,
		delivery: delivery,
		onResult: onResult,
		log:      log.With().Str("component", "sync_queue").Logger(),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends a mutation. Returns false once the queue is closed.
func (q *Queue) Enqueue(m Mutation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, m)
	q.wake()
	return true
}

// Pause suspends delivery attempts without dropping queued mutations.
// Used on networkLost; the session status is untouched.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.wake()
	q.mu.Unlock()
	q.cancelInFlight()
}

// Resume restarts delivery after a Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.wake()
	q.mu.Unlock()
}

// Len returns the number of queued mutations (excluding any in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close cancels in-flight retries, then makes one best-effort delivery
// pass over whatever is still queued, bounded by ctx. Blocks until the
// worker exits.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.wake()
	q.mu.Unlock()
	q.cancelInFlight()

	<-q.done

	// Worker has exited and the queue is closed, so items is stable now.
	// Anything the worker had in flight was pushed back to the head.
	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.mu.Unlock()

	// Best-effort final save: one attempt per mutation, no retries.
	for _, m := range remaining {
		m := m
		if err := q.deliver(ctx, &m); err != nil {
			q.log.Warn().Err(err).Str("key", m.Key()).Msg("Final delivery attempt failed")
			q.report(Result{Mutation: m, Attempts: 1, Err: err})
			continue
		}
		q.report(Result{Mutation: m, Attempts: 1})
	}
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) cancelInFlight() {
	q.cancelMu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.cancelMu.Unlock()
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if q.paused || len(q.items) == 0 {
			q.mu.Unlock()
			<-q.signal
			continue
		}
		m := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.process(&m)
	}
}

// process delivers one mutation, retrying in place until success, the
// retry ceiling, a pause (mutation goes back to the head), or close.
func (q *Queue) process(m *Mutation) {
	attempts := 0
	for {
		q.mu.Lock()
		closed, paused := q.closed, q.paused
		q.mu.Unlock()
		if closed {
			q.requeueHead(*m) // picked up by Close's final pass
			return
		}
		if paused {
			q.requeueHead(*m)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		q.cancelMu.Lock()
		q.cancel = cancel
		q.cancelMu.Unlock()

		attempts++
		err := q.deliver(ctx, m)

		q.cancelMu.Lock()
		q.cancel = nil
		q.cancelMu.Unlock()
		cancel()

		if err == nil {
			q.report(Result{Mutation: *m, Attempts: attempts})
			return
		}

		q.log.Warn().Err(err).
			Str("key", m.Key()).
			Int("attempt", attempts).
			Msg("Delivery failed")

		// A failure caused by a pause/close cancellation is not a real
		// attempt; put the mutation back and let the loop top settle it.
		q.mu.Lock()
		interrupted := q.closed || q.paused
		q.mu.Unlock()
		if interrupted {
			q.requeueHead(*m)
			return
		}

		if attempts >= q.cfg.RetryCeiling {
			q.report(Result{Mutation: *m, Attempts: attempts, Err: err, Exhausted: true})
			return
		}
		q.report(Result{Mutation: *m, Attempts: attempts, Err: err})

		if !q.sleepBackoff(attempts) {
			// Woken for pause/close; loop top decides what to do.
			continue
		}
	}
}

func (q *Queue) deliver(ctx context.Context, m *Mutation) error {
	switch m.Kind {
	case MutationCreate:
		return q.delivery.CreateSession(ctx, *m.Session)
	case MutationSubmitAnswer:
		return q.delivery.SubmitAnswer(ctx, *m.Record)
	case MutationComplete:
		result, err := q.delivery.CompleteSession(ctx, m.SessionID, m.FinalAnswers)
		if err != nil {
			return err
		}
		q.pendingCompletion = result
		return nil
	}
	return nil
}

// backoff returns the delay before the next attempt: exponential from the
// base, capped, with full jitter.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BackoffBase << (attempt - 1)
	if d > q.cfg.BackoffCap || d <= 0 {
		d = q.cfg.BackoffCap
	}
	q.mu.Lock()
	jittered := time.Duration(q.rand.Int63n(int64(d) + 1))
	q.mu.Unlock()
	return jittered
}

// sleepBackoff waits out the backoff for the given attempt. Returns false
// when interrupted by a pause or close signal before the delay elapsed.
func (q *Queue) sleepBackoff(attempt int) bool {
	timer := time.NewTimer(q.backoff(attempt))
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-q.signal:
			q.mu.Lock()
			interrupted := q.closed || q.paused
			q.mu.Unlock()
			if interrupted {
				return false
			}
			// Spurious wake from an enqueue; keep waiting out the backoff.
		}
	}
}

func (q *Queue) requeueHead(m Mutation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Mutation{m}, q.items...)
}

func (q *Queue) report(r Result) {
	if r.Err == nil && r.Mutation.Kind == MutationComplete {
		r.Completion = q.pendingCompletion
		q.pendingCompletion = nil
	}
	if q.onResult != nil {
		q.onResult(r)
	}
}
