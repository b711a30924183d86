package serial

import (
	"sync"
	"time"
)

// pendingMatch is a token waiting to be handed to a filter's sink.
type pendingMatch struct {
	filter FilterID
	token  TokenID
}

// matchQueue is an unbounded FIFO between the matcher and the dispatcher.
// push never blocks, so matching never waits on slow callbacks.
type matchQueue struct {
	mu     sync.Mutex
	items  []pendingMatch
	signal chan struct{}
}

func newMatchQueue() *matchQueue {
	return &matchQueue{signal: make(chan struct{}, 1)}
}

func (q *matchQueue) push(m pendingMatch) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *matchQueue) tryPop() (pendingMatch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return pendingMatch{}, false
	}
	m := q.items[0]
	q.items[0] = pendingMatch{}
	q.items = q.items[1:]
	return m, true
}

// pop waits up to timeout for a match. It gives up early when stop closes.
func (q *matchQueue) pop(stop <-chan struct{}, timeout time.Duration) (pendingMatch, bool) {
	if m, ok := q.tryPop(); ok {
		return m, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			if m, ok := q.tryPop(); ok {
				return m, true
			}
		case <-timer.C:
			return q.tryPop()
		case <-stop:
			return pendingMatch{}, false
		}
	}
}

func (q *matchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *matchQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
