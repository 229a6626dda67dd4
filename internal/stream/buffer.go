// Package stream provides the bounded utterance buffer between the
// capture side and the analysis pipeline.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"character-insights-go/internal/config"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/types"
)

// ErrClosed is returned by Push once the input side has been closed.
var ErrClosed = errors.New("stream buffer closed")

// Buffer is a bounded FIFO of utterances. Multiple producers may Push;
// a single consumer Pops. In low-latency mode a full buffer evicts its
// oldest utterance instead of blocking the producer, and the eviction
// is counted.
type Buffer struct {
	ch         chan types.Utterance
	done       chan struct{}
	closeOnce  sync.Once
	lowLatency bool
	drops      atomic.Uint64
	log        *logrus.Entry
}

func NewBuffer(cfg config.BufferConfig) *Buffer {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		ch:         make(chan types.Utterance, capacity),
		done:       make(chan struct{}),
		lowLatency: cfg.LowLatency,
		log:        logger.New().WithField("component", "stream-buffer"),
	}
}

// Push appends an utterance. When the buffer is full it blocks until
// space frees up or ctx ends, unless low-latency mode is on, where the
// oldest unconsumed utterance is dropped to make room.
func (b *Buffer) Push(ctx context.Context, u types.Utterance) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	if !b.lowLatency {
		select {
		case b.ch <- u:
			return nil
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case b.ch <- u:
			return nil
		default:
		}
		select {
		case dropped := <-b.ch:
			n := b.drops.Add(1)
			b.log.WithFields(logrus.Fields{
				"utterance_id": dropped.ID,
				"seq":          dropped.Seq,
				"total_drops":  n,
			}).Warn("buffer full, evicted oldest utterance")
		case b.ch <- u:
			return nil
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes the oldest utterance, blocking until one arrives, the
// buffer is closed and drained, or ctx ends. The second return is
// false only when no utterance will be delivered.
func (b *Buffer) Pop(ctx context.Context) (types.Utterance, bool) {
	select {
	case u := <-b.ch:
		return u, true
	default:
	}
	select {
	case u := <-b.ch:
		return u, true
	case <-b.done:
		// drain whatever was buffered before the close
		select {
		case u := <-b.ch:
			return u, true
		default:
			return types.Utterance{}, false
		}
	case <-ctx.Done():
		return types.Utterance{}, false
	}
}

// Close stops accepting pushes. Buffered utterances remain poppable.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Drops reports how many utterances were evicted in low-latency mode.
func (b *Buffer) Drops() uint64 { return b.drops.Load() }

// Len is the current number of buffered utterances.
func (b *Buffer) Len() int { return len(b.ch) }
