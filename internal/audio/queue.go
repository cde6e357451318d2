// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/asrhub/internal/metrics"
)

// Disposition reports what happened to a pushed chunk.
type Disposition string

const (
	// Accepted means the chunk was queued normally.
	Accepted Disposition = "accepted"
	// Backpressure means the chunk was queued but the queue crossed its
	// high-water mark; the caller should slow the client down.
	Backpressure Disposition = "backpressure"
	// DroppedOverflow means the oldest chunk was evicted to make room.
	DroppedOverflow Disposition = "dropped_overflow"
)

// QueueConfig bounds a per-session queue.
type QueueConfig struct {
	MaxBytes  int     // hard byte cap (0 = 320 kB default)
	MaxChunks int     // hard chunk cap (0 = 256 default)
	HighWater float64 // fraction of MaxBytes that triggers backpressure (0 = 0.8)
}

func (c *QueueConfig) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 320_000
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 256
	}
	if c.HighWater <= 0 || c.HighWater > 1 {
		c.HighWater = 0.8
	}
}

// Queue is a bounded FIFO of chunks for one session. It is safe for a
// single producer and a single consumer; that is all the pipeline needs.
type Queue struct {
	mu       sync.Mutex
	cfg      QueueConfig
	chunks   []Chunk
	bytes    int
	lastTS   time.Time
	overflow uint64
	notify   chan struct{}
	closed   bool
}

// NewQueue returns an empty queue with the given bounds.
func NewQueue(cfg QueueConfig) *Queue {
	cfg.defaults()
	return &Queue{cfg: cfg, notify: make(chan struct{}, 1)}
}

// Push appends a chunk. Overflow evicts the oldest chunk rather than
// rejecting the new one; eviction is counted, never fatal.
func (q *Queue) Push(chunk Chunk) Disposition {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return DroppedOverflow
	}

	disp := Accepted
	for (q.bytes+len(chunk.Data) > q.cfg.MaxBytes || len(q.chunks)+1 > q.cfg.MaxChunks) && len(q.chunks) > 0 {
		old := q.chunks[0]
		q.chunks = q.chunks[1:]
		q.bytes -= len(old.Data)
		q.overflow++
		metrics.AudioChunksDroppedTotal.WithLabelValues("overflow").Inc()
		disp = DroppedOverflow
	}

	q.chunks = append(q.chunks, chunk)
	q.bytes += len(chunk.Data)
	q.lastTS = chunk.ReceivedAt

	if disp == Accepted && float64(q.bytes) >= q.cfg.HighWater*float64(q.cfg.MaxBytes) {
		disp = Backpressure
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return disp
}

// Pop removes and returns the oldest chunk; ok is false when empty.
// Pop never blocks.
func (q *Queue) Pop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return Chunk{}, false
	}
	c := q.chunks[0]
	q.chunks = q.chunks[1:]
	q.bytes -= len(c.Data)
	return c, true
}

// PopAll removes and returns every queued chunk.
func (q *Queue) PopAll() []Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	q.bytes = 0
	return out
}

// DrainUntil pops chunks as they arrive, handing each to fn, until fn
// returns true or the context expires. It returns the number of chunks
// consumed and ctx.Err() on deadline.
func (q *Queue) DrainUntil(ctx context.Context, fn func(Chunk) bool) (int, error) {
	consumed := 0
	for {
		for {
			c, ok := q.Pop()
			if !ok {
				break
			}
			consumed++
			if fn(c) {
				return consumed, nil
			}
		}
		select {
		case <-ctx.Done():
			return consumed, ctx.Err()
		case <-q.notify:
		}
	}
}

// Clear drops all buffered chunks.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = nil
	q.bytes = 0
}

// Close marks the queue dead and drops its contents. Subsequent pushes
// are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.chunks = nil
	q.bytes = 0
}

// Size returns the number of queued chunks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Bytes returns the number of queued bytes.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// LastTimestamp returns the arrival time of the newest chunk ever pushed.
func (q *Queue) LastTimestamp() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastTS
}

// OverflowCount returns how many chunks were evicted since creation.
func (q *Queue) OverflowCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}
