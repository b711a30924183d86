package serial

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport is the byte source a Listener reads from. Read blocks for at
// most an implementation-defined timeout and returns up to max bytes; an
// empty result means no data arrived and is not an error. *Port satisfies
// Transport.
type Transport interface {
	IsOpen() bool
	Read(max int) ([]byte, error)
}

// State is the lifecycle state of a Listener.
type State int

const (
	StateIdle State = iota
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const dispatchPollInterval = 10 * time.Millisecond

// Listener reads a Transport on a background goroutine, splits the stream
// into tokens and hands each token to the first registered filter that
// accepts it. Filter callbacks run on a second goroutine so slow callbacks
// never stall reading.
//
// A token goes to at most one filter, tried in registration order. Tokens
// nobody claims are kept for the configured time to live so filters created
// shortly afterwards can still catch them; after that they are passed to the
// default handler or dropped.
type Listener struct {
	cfgMu sync.RWMutex
	cfg   ListenerConfig

	stateMu sync.Mutex
	state   State
	stop    chan struct{}
	wg      sync.WaitGroup

	buffer string // owned by the reader goroutine

	// matchMu serializes matching and pruning so a token's fate is decided once.
	matchMu sync.Mutex
	tokens  *tokenStore
	filters *registry
	queue   *matchQueue
}

// NewListener returns an idle Listener.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{
		cfg:     cfg.withDefaults(),
		tokens:  newTokenStore(),
		filters: &registry{},
		queue:   newMatchQueue(),
	}
}

func (l *Listener) config() ListenerConfig {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.cfg
}

func (l *Listener) update(fn func(*ListenerConfig)) {
	l.cfgMu.Lock()
	fn(&l.cfg)
	l.cfg = l.cfg.withDefaults()
	l.cfgMu.Unlock()
}

// SetTokenizer replaces the tokenizer. nil restores the delimiter tokenizer.
func (l *Listener) SetTokenizer(t Tokenizer) {
	l.update(func(c *ListenerConfig) { c.Tokenizer = t })
}

// SetChunkSize sets how many bytes are requested per read.
func (l *Listener) SetChunkSize(n int) {
	l.update(func(c *ListenerConfig) { c.ChunkSize = n })
}

// SetTimeToLive sets how long unmatched tokens are kept.
func (l *Listener) SetTimeToLive(ttl time.Duration) {
	l.update(func(c *ListenerConfig) { c.TimeToLive = ttl })
}

// SetDefaultHandler sets the handler for tokens that expire unmatched.
func (l *Listener) SetDefaultHandler(h Callback) {
	l.update(func(c *ListenerConfig) { c.DefaultHandler = h })
}

// SetExceptionHandler sets the handler for errors raised on the background
// goroutines. The handler must not call StopListening synchronously.
func (l *Listener) SetExceptionHandler(h func(error)) {
	l.update(func(c *ListenerConfig) { c.ExceptionHandler = h })
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// StartListening starts the reader and dispatcher goroutines on t.
func (l *Listener) StartListening(t Transport) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state != StateIdle {
		return ErrAlreadyListening
	}
	if t == nil || !t.IsOpen() {
		return ErrPortNotOpen
	}

	cfg := l.config()
	l.stop = make(chan struct{})
	l.buffer = ""
	l.state = StateListening

	l.wg.Add(2)
	go l.readLoop(t, l.stop, cfg)
	go l.dispatchLoop(l.stop, cfg)

	cfg.Logger.Debug("serial listener started",
		slog.Int("chunk_size", cfg.ChunkSize),
		slog.Duration("ttl", cfg.TimeToLive))
	return nil
}

// StopListening stops both goroutines and waits for them to exit, which
// takes at most one transport read timeout. Buffered tokens and all filters
// are discarded; pending Wait calls return with no match. Calling it on an
// idle Listener does nothing. It must not be called from a callback.
func (l *Listener) StopListening() {
	l.stateMu.Lock()
	if l.state != StateListening {
		l.stateMu.Unlock()
		return
	}
	l.state = StateStopping
	close(l.stop)
	l.stateMu.Unlock()

	l.wg.Wait()

	l.buffer = ""
	l.queue.clear()
	l.tokens.clear()
	l.filters.removeAll()

	l.stateMu.Lock()
	l.state = StateIdle
	l.stateMu.Unlock()

	l.config().Logger.Debug("serial listener stopped")
}

// Close stops the listener if it is still listening.
func (l *Listener) Close() error {
	l.StopListening()
	return nil
}

// CreateFilter registers an async filter: cb runs on the dispatcher
// goroutine for every token p accepts, until RemoveFilter is called.
func (l *Listener) CreateFilter(p Predicate, cb Callback) FilterHandle {
	if cb == nil {
		cb = func(string) {}
	}
	id := l.filters.add(p, callbackSink(cb))
	l.rescan()
	return FilterHandle{id: id}
}

// CreateBlockingFilter registers a filter whose matches are collected with
// Wait. Close the returned filter when done with it.
func (l *Listener) CreateBlockingFilter(p Predicate) *BlockingFilter {
	slot := newBlockingSlot()
	id := l.filters.add(p, slot)
	l.rescan()
	return &BlockingFilter{id: id, l: l, slot: slot}
}

// CreateBufferedFilter registers a filter that buffers up to capacity
// matches (DefaultBufferCapacity when capacity <= 0). Close the returned
// filter when done with it.
func (l *Listener) CreateBufferedFilter(p Predicate, capacity int) *BufferedFilter {
	slot := newBufferedSlot(capacity)
	id := l.filters.add(p, slot)
	l.rescan()
	return &BufferedFilter{id: id, l: l, slot: slot}
}

// RemoveFilter unregisters a filter. It reports whether the filter was
// registered. Matches already queued for it are dropped.
func (l *Listener) RemoveFilter(h Handle) bool {
	return l.filters.remove(h.ID())
}

// RemoveAllFilters unregisters every filter.
func (l *Listener) RemoveAllFilters() {
	l.filters.removeAll()
}

// FilterCount returns the number of registered filters.
func (l *Listener) FilterCount() int {
	return l.filters.len()
}

// ListenForStringOnce waits up to timeout for a token equal to text and
// reports whether one arrived. Tokens already buffered count.
func (l *Listener) ListenForStringOnce(text string, timeout time.Duration) bool {
	slot := newBlockingSlot()
	first := slot.gen
	id := l.filters.add(Exactly(text), slot)
	defer func() {
		l.filters.remove(id)
		slot.close()
	}()
	l.rescan()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-first.done:
		return true
	case <-slot.closed:
		return false
	case <-timer.C:
		return false
	}
}

func (l *Listener) readLoop(t Transport, stop <-chan struct{}, cfg ListenerConfig) {
	defer l.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		var err error
		if !t.IsOpen() {
			err = ErrPortNotOpen
		} else {
			var data []byte
			if data, err = t.Read(cfg.ChunkSize); err != nil {
				err = &TransportError{Err: err}
			} else if len(data) > 0 {
				l.process(string(data), cfg)
			}
		}
		if err != nil {
			l.report(cfg, err)
			select {
			case <-time.After(b.NextBackOff()):
			case <-stop:
				return
			}
			continue
		}
		b.Reset()
		l.prune(cfg)
	}
}

// process appends data to the buffer, turns complete pieces into tokens and
// matches them.
func (l *Listener) process(data string, cfg ListenerConfig) {
	texts, leftover, err := tokenize(cfg.Tokenizer, l.buffer+data)
	l.buffer = leftover
	if err != nil {
		l.report(cfg, err)
	}
	if len(texts) == 0 {
		return
	}
	ids := make([]TokenID, 0, len(texts))
	for _, text := range texts {
		ids = append(ids, l.tokens.insert(text))
	}
	l.match(ids, cfg)
}

// match offers the new tokens to the filters and hands waiting tokens that
// have outlived the TTL to the default handler.
func (l *Listener) match(ids []TokenID, cfg ListenerConfig) {
	l.matchMu.Lock()
	var errs []error
	if ids = append(l.tokens.expired(cfg.TimeToLive), ids...); len(ids) > 0 {
		if candidates := l.tokens.unclaimed(ids); len(candidates) > 0 {
			errs = l.resolve(candidates, cfg)
		}
	}
	l.matchMu.Unlock()
	for _, err := range errs {
		l.report(cfg, err)
	}
}

// rescan offers every waiting token to the filters. New filters call it so
// they see tokens that arrived before they were registered.
func (l *Listener) rescan() {
	cfg := l.config()
	l.matchMu.Lock()
	var errs []error
	if candidates := l.tokens.unclaimed(nil); len(candidates) > 0 {
		errs = l.resolve(candidates, cfg)
	}
	l.matchMu.Unlock()
	for _, err := range errs {
		l.report(cfg, err)
	}
}

// resolve must be called with matchMu held.
func (l *Listener) resolve(candidates []Token, cfg ListenerConfig) []error {
	filters := l.filters.snapshot()
	now := l.tokens.now()
	var (
		errs    []error
		toErase []TokenID
	)
	for _, tok := range candidates {
		// Past its TTL a token belongs to the default handler, even if
		// pruning has not caught up with it yet.
		if now.Sub(tok.Created) > cfg.TimeToLive {
			if cfg.DefaultHandler == nil {
				toErase = append(toErase, tok.ID)
			} else if l.tokens.claim(tok.ID) {
				l.queue.push(pendingMatch{filter: defaultFilterID, token: tok.ID})
			}
			continue
		}
		f, err := firstMatch(filters, tok.Text)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil && l.tokens.claim(tok.ID) {
			l.queue.push(pendingMatch{filter: f.id, token: tok.ID})
		}
	}
	for _, id := range toErase {
		l.tokens.erase(id)
	}
	if len(toErase) > 0 {
		cfg.Logger.Debug("dropped expired tokens", slog.Int("count", len(toErase)))
	}
	return errs
}

// firstMatch returns the oldest filter accepting text. A panicking
// predicate counts as no match.
func firstMatch(filters []*filter, text string) (*filter, error) {
	var errs error
	for _, f := range filters {
		ok, err := safeMatch(f, text)
		if err != nil && errs == nil {
			errs = err
		}
		if ok {
			return f, errs
		}
	}
	return nil, errs
}

func safeMatch(f *filter, text string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, &CallbackError{Filter: f.id, Token: text, Value: r}
		}
	}()
	return f.match(text), nil
}

// prune resolves waiting tokens older than the TTL and returns their ids.
func (l *Listener) prune(cfg ListenerConfig) []TokenID {
	l.matchMu.Lock()
	defer l.matchMu.Unlock()
	keep := cfg.DefaultHandler != nil
	ids := l.tokens.prune(cfg.TimeToLive, keep)
	if keep {
		for _, id := range ids {
			l.queue.push(pendingMatch{filter: defaultFilterID, token: id})
		}
	} else if len(ids) > 0 {
		cfg.Logger.Debug("dropped expired tokens", slog.Int("count", len(ids)))
	}
	return ids
}

func (l *Listener) dispatchLoop(stop <-chan struct{}, cfg ListenerConfig) {
	defer l.wg.Done()
	for {
		m, ok := l.queue.pop(stop, dispatchPollInterval)
		if ok {
			l.dispatch(m, cfg)
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// dispatch delivers one match and then releases its token.
func (l *Listener) dispatch(m pendingMatch, cfg ListenerConfig) {
	tok, ok := l.tokens.get(m.token)
	if !ok {
		return
	}
	defer l.tokens.erase(m.token)

	if m.filter == defaultFilterID {
		if cfg.DefaultHandler != nil {
			l.invoke(cfg, m.filter, tok.Text, cfg.DefaultHandler)
		}
		return
	}
	f, ok := l.filters.lookup(m.filter)
	if !ok {
		cfg.Logger.Debug("dropping match for removed filter",
			slog.Uint64("filter", uint64(m.filter)),
			slog.String("token", tok.Text))
		return
	}
	l.invoke(cfg, f.id, tok.Text, f.sink.deliver)
}

func (l *Listener) invoke(cfg ListenerConfig, id FilterID, token string, fn func(string)) {
	defer func() {
		if r := recover(); r != nil {
			l.report(cfg, &CallbackError{Filter: id, Token: token, Value: r})
		}
	}()
	fn(token)
}

// report hands err to the exception handler, or logs it when none is set.
func (l *Listener) report(cfg ListenerConfig, err error) {
	if cfg.ExceptionHandler == nil {
		cfg.Logger.Error("serial listener error", slog.Any("err", err))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cfg.Logger.Error("serial listener exception handler panicked",
				slog.Any("err", err), slog.Any("panic", r))
		}
	}()
	cfg.ExceptionHandler(err)
}
