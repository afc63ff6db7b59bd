package corridor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrDLQFull is returned when a corridor's dead-letter queue is at capacity;
// the failure is not retried by the DLQ and the caller must handle it.
var ErrDLQFull = errors.New("dead letter queue full")

// Dispatcher re-dispatches a dead-lettered request. The adapter manager
// implements this; the DLQ never talks to banks directly.
type Dispatcher interface {
	Redeliver(ctx context.Context, entry *DLQEntry) error
}

// DLQEntry is one failed dispatch awaiting retry.
type DLQEntry struct {
	EntryID       uuid.UUID `json:"entry_id"`
	CorridorID    string    `json:"corridor_id"`
	InstructionID uuid.UUID `json:"instruction_id"`

	// Request is the original transfer request, opaque to the queue.
	Request any `json:"request"`

	LastError   string    `json:"last_error"`
	RetryCount  int       `json:"retry_count"`
	FailedAt    time.Time `json:"failed_at"`
	NextRetryAt time.Time `json:"next_retry_at"`

	retry *backoff.ExponentialBackOff
}

// retrySchedule builds the per-entry backoff: 2^attempt seconds starting at
// one second, capped at 64 seconds, no jitter so retry timing is testable.
func retrySchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 64 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// DeadLetterQueue holds failed settlement dispatches per corridor and
// retries them on an exponential schedule until the retry budget runs out,
// after which entries are parked for manual handling.
type DeadLetterQueue struct {
	mtx     sync.RWMutex
	queues  map[string][]*DLQEntry
	parked  map[string][]*DLQEntry
	maxSize int
	maxTry  int

	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	now func() time.Time
}

// NewDeadLetterQueue creates a DLQ bounded to maxSize entries per corridor
// with maxRetryAttempts per entry.
func NewDeadLetterQueue(maxSize, maxRetryAttempts int) *DeadLetterQueue {
	return &DeadLetterQueue{
		queues:  make(map[string][]*DLQEntry),
		parked:  make(map[string][]*DLQEntry),
		maxSize: maxSize,
		maxTry:  maxRetryAttempts,
		quit:    make(chan struct{}),
		now:     time.Now,
	}
}

// Push enqueues a failed request for retry. The first retry is scheduled one
// backoff interval out.
func (q *DeadLetterQueue) Push(corridorID string, instructionID uuid.UUID, request any, lastErr string) (*DLQEntry, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if len(q.queues[corridorID]) >= q.maxSize {
		return nil, fmt.Errorf("%w: corridor %s at %d entries", ErrDLQFull, corridorID, q.maxSize)
	}

	entry := &DLQEntry{
		EntryID:       uuid.New(),
		CorridorID:    corridorID,
		InstructionID: instructionID,
		Request:       request,
		LastError:     lastErr,
		FailedAt:      q.now().UTC(),
		retry:         retrySchedule(),
	}
	entry.NextRetryAt = q.now().Add(entry.retry.NextBackOff())
	q.queues[corridorID] = append(q.queues[corridorID], entry)

	log.Infof("Dead-lettered instruction %s on corridor %s: %s",
		instructionID, corridorID, lastErr)
	return entry, nil
}

// Size returns the live queue depth for a corridor.
func (q *DeadLetterQueue) Size(corridorID string) int {
	q.mtx.RLock()
	defer q.mtx.RUnlock()
	return len(q.queues[corridorID])
}

// Entries returns a snapshot of a corridor's live entries.
func (q *DeadLetterQueue) Entries(corridorID string) []*DLQEntry {
	q.mtx.RLock()
	defer q.mtx.RUnlock()
	out := make([]*DLQEntry, len(q.queues[corridorID]))
	copy(out, q.queues[corridorID])
	return out
}

// Parked returns the entries whose retry budget ran out.
func (q *DeadLetterQueue) Parked(corridorID string) []*DLQEntry {
	q.mtx.RLock()
	defer q.mtx.RUnlock()
	out := make([]*DLQEntry, len(q.parked[corridorID]))
	copy(out, q.parked[corridorID])
	return out
}

// Clear drops all live entries for a corridor.
func (q *DeadLetterQueue) Clear(corridorID string) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	delete(q.queues, corridorID)
}

// Start launches the retry processor task.
func (q *DeadLetterQueue) Start(dispatcher Dispatcher, interval time.Duration) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.processor(dispatcher, interval)
	})
}

// Stop terminates the retry processor.
func (q *DeadLetterQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.quit)
		q.wg.Wait()
	})
}

// processor periodically redelivers due entries.
func (q *DeadLetterQueue) processor(dispatcher Dispatcher, interval time.Duration) {
	defer q.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.ProcessDue(context.Background(), dispatcher)
		case <-q.quit:
			return
		}
	}
}

// ProcessDue redelivers every entry whose NextRetryAt has passed. Exhausted
// entries move to the parked list. Returns the number of successful
// redeliveries.
func (q *DeadLetterQueue) ProcessDue(ctx context.Context, dispatcher Dispatcher) int {
	now := q.now()

	q.mtx.Lock()
	var due []*DLQEntry
	for corridorID, entries := range q.queues {
		kept := entries[:0]
		for _, e := range entries {
			if !e.NextRetryAt.After(now) {
				due = append(due, e)
			} else {
				kept = append(kept, e)
			}
		}
		q.queues[corridorID] = kept
	}
	q.mtx.Unlock()

	succeeded := 0
	for _, e := range due {
		e.RetryCount++
		err := dispatcher.Redeliver(ctx, e)
		if err == nil {
			succeeded++
			log.Infof("DLQ redelivery succeeded for instruction %s on corridor %s (attempt %d)",
				e.InstructionID, e.CorridorID, e.RetryCount)
			continue
		}

		e.LastError = err.Error()
		q.mtx.Lock()
		if e.RetryCount >= q.maxTry {
			q.parked[e.CorridorID] = append(q.parked[e.CorridorID], e)
			log.Warnf("DLQ retry budget exhausted for instruction %s on corridor %s after %d attempts: %v",
				e.InstructionID, e.CorridorID, e.RetryCount, err)
		} else {
			e.NextRetryAt = q.now().Add(e.retry.NextBackOff())
			q.queues[e.CorridorID] = append(q.queues[e.CorridorID], e)
			log.Debugf("DLQ retry %d/%d failed for instruction %s on corridor %s: %v",
				e.RetryCount, q.maxTry, e.InstructionID, e.CorridorID, err)
		}
		q.mtx.Unlock()
	}
	return succeeded
}
