package run

import (
	"context"
	"sync"

	xerrors "NFTMarket-Harness/internal/errors"
)

// MemoryQueue is a buffered channel standing in for a broker.
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

func (q *MemoryQueue) Publish(ctx context.Context, runID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "queue is closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- runID:
		return nil
	}
}

// Consume runs workerCount workers until ctx ends or the queue closes.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case runID, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, runID)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Len reports runs waiting to be consumed.
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
