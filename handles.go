package serial

import (
	"sync"
	"time"
)

// DefaultBufferCapacity is used by CreateBufferedFilter when capacity <= 0.
const DefaultBufferCapacity = 1024

// Handle is anything that names a registered filter.
type Handle interface {
	ID() FilterID
}

// FilterHandle names an async filter created by CreateFilter. The filter
// stays registered until RemoveFilter is called with it.
type FilterHandle struct {
	id FilterID
}

// ID returns the filter id.
func (h FilterHandle) ID() FilterID { return h.id }

// BlockingFilter lets goroutines wait for the next token accepted by its
// predicate. Close unregisters the filter; use it with defer.
type BlockingFilter struct {
	id   FilterID
	l    *Listener
	slot *blockingSlot
}

// ID returns the filter id.
func (f *BlockingFilter) ID() FilterID { return f.id }

// Wait blocks until the next match arrives, the timeout elapses, or the
// filter is closed. It returns the matched token and true, or "" and false.
func (f *BlockingFilter) Wait(timeout time.Duration) (string, bool) {
	return f.slot.wait(timeout)
}

// Close removes the filter from its listener and wakes pending Wait calls.
// It is safe to call more than once, and after the listener has stopped.
func (f *BlockingFilter) Close() error {
	f.l.filters.remove(f.id)
	f.slot.close()
	return nil
}

// BufferedFilter keeps up to Capacity matches in a circular buffer; when it
// is full the oldest match is dropped.
type BufferedFilter struct {
	id   FilterID
	l    *Listener
	slot *bufferedSlot
}

// ID returns the filter id.
func (f *BufferedFilter) ID() FilterID { return f.id }

// Wait pops the oldest buffered match. If none is buffered it waits up to
// timeout for one; a zero timeout only polls.
func (f *BufferedFilter) Wait(timeout time.Duration) (string, bool) {
	return f.slot.wait(timeout)
}

// Count returns the number of buffered matches.
func (f *BufferedFilter) Count() int {
	f.slot.mu.Lock()
	defer f.slot.mu.Unlock()
	return f.slot.items.len()
}

// Capacity returns the maximum number of buffered matches.
func (f *BufferedFilter) Capacity() int {
	return f.slot.items.cap()
}

// Clear drops all buffered matches.
func (f *BufferedFilter) Clear() {
	f.slot.mu.Lock()
	f.slot.items.reset()
	f.slot.mu.Unlock()
}

// Close removes the filter from its listener, drops buffered matches and
// wakes pending Wait calls. It is safe to call more than once.
func (f *BufferedFilter) Close() error {
	f.l.filters.remove(f.id)
	f.slot.close()
	return nil
}

// generation is one round of a blockingSlot. done is closed once token is set.
type generation struct {
	done  chan struct{}
	token string
}

type blockingSlot struct {
	mu        sync.Mutex
	gen       *generation
	closed    chan struct{}
	closeOnce sync.Once
}

func newBlockingSlot() *blockingSlot {
	return &blockingSlot{
		gen:    &generation{done: make(chan struct{})},
		closed: make(chan struct{}),
	}
}

func (*blockingSlot) kind() Kind { return KindBlocking }

func (s *blockingSlot) deliver(token string) {
	s.mu.Lock()
	g := s.gen
	s.gen = &generation{done: make(chan struct{})}
	s.mu.Unlock()
	g.token = token
	close(g.done)
}

func (s *blockingSlot) wait(timeout time.Duration) (string, bool) {
	s.mu.Lock()
	g := s.gen
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-g.done:
		return g.token, true
	case <-s.closed:
		return "", false
	case <-timer.C:
		return "", false
	}
}

func (s *blockingSlot) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

type bufferedSlot struct {
	mu        sync.Mutex
	items     *ring[string]
	changed   chan struct{} // closed and replaced on every delivery
	closed    chan struct{}
	closeOnce sync.Once
}

func newBufferedSlot(capacity int) *bufferedSlot {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &bufferedSlot{
		items:   newRing[string](capacity),
		changed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (*bufferedSlot) kind() Kind { return KindBuffered }

func (s *bufferedSlot) deliver(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		// a dispatch racing Close must not refill the cleared ring
		return
	default:
	}
	s.items.push(token)
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *bufferedSlot) wait(timeout time.Duration) (string, bool) {
	var timer *time.Timer
	for {
		s.mu.Lock()
		if v, ok := s.items.pop(); ok {
			s.mu.Unlock()
			return v, true
		}
		changed := s.changed
		s.mu.Unlock()

		if timeout <= 0 {
			return "", false
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-changed:
		case <-s.closed:
			return "", false
		case <-timer.C:
			return "", false
		}
	}
}

func (s *bufferedSlot) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.items.reset()
		s.mu.Unlock()
	})
}
