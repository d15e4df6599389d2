package sink

import (
	"context"
	"sync"

	"hwsampler/internal/logger"
)

// Queue decouples the sampling loop from a slow sink. It holds at most size
// records; when full the oldest record is discarded so the consumer always
// sees the most recent state.
type Queue struct {
	next Sink
	log  logger.Logger
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	records [][]byte
	closed  bool
	dropped uint64

	done chan struct{}
}

// NewQueue starts delivering to next in the background. Close drains what
// is buffered and then closes next.
func NewQueue(next Sink, size int, log logger.Logger) *Queue {
	if size < 1 {
		size = 1
	}

	q := &Queue{
		next:    next,
		log:     log,
		size:    size,
		records: make([][]byte, 0, size),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

func (q *Queue) Write(_ context.Context, record []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if len(q.records) == q.size {
		q.records[0] = nil
		q.records = q.records[1:]
		q.dropped++
		q.log.Warn("sink: queue full, oldest record dropped", "dropped", q.dropped)
	}

	q.records = append(q.records, record)
	q.cond.Signal()

	return nil
}

// Dropped returns how many records were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done

	return q.next.Close()
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.records) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.records) == 0 {
			q.mu.Unlock()
			return
		}

		record := q.records[0]
		q.records[0] = nil
		q.records = q.records[1:]
		q.mu.Unlock()

		if err := q.next.Write(context.Background(), record); err != nil {
			q.log.Error("sink: delivery failed", "error", err)
		}
	}
}
