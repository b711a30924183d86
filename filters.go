package serial

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Predicate reports whether a token is wanted by a filter. Predicates run
// while the matcher lock is held and must not call back into the Listener.
type Predicate func(token string) bool

// Callback receives matched tokens on the dispatcher goroutine.
type Callback func(token string)

// Exactly matches tokens equal to s.
func Exactly(s string) Predicate {
	return func(token string) bool { return token == s }
}

// StartsWith matches tokens with the given prefix.
func StartsWith(prefix string) Predicate {
	return func(token string) bool { return strings.HasPrefix(token, prefix) }
}

// EndsWith matches tokens with the given suffix.
func EndsWith(suffix string) Predicate {
	return func(token string) bool { return strings.HasSuffix(token, suffix) }
}

// Contains matches tokens containing substr.
func Contains(substr string) Predicate {
	return func(token string) bool { return strings.Contains(token, substr) }
}

// Regexp matches tokens in which re finds a match.
func Regexp(re *regexp.Regexp) Predicate {
	return re.MatchString
}

// FilterID identifies a registered filter. Zero is reserved for the default
// handler.
type FilterID uint64

const defaultFilterID FilterID = 0

// Kind is the consumption discipline of a filter.
type Kind int

const (
	// KindAsync filters invoke a callback for every match.
	KindAsync Kind = iota
	// KindBlocking filters wake goroutines waiting for the next match.
	KindBlocking
	// KindBuffered filters queue matches in a bounded ring.
	KindBuffered
)

func (k Kind) String() string {
	switch k {
	case KindAsync:
		return "async"
	case KindBlocking:
		return "blocking"
	case KindBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// sink is where a filter delivers matched tokens.
type sink interface {
	kind() Kind
	deliver(token string)
	// close wakes anything waiting on the sink; it is called once, when the
	// filter leaves the registry.
	close()
}

type callbackSink Callback

func (callbackSink) kind() Kind             { return KindAsync }
func (c callbackSink) deliver(token string) { c(token) }
func (callbackSink) close()                 {}

type filter struct {
	id    FilterID
	match Predicate
	sink  sink
}

// registry keeps filters in registration order.
type registry struct {
	mu      sync.RWMutex
	nextID  FilterID
	filters []*filter
}

func (r *registry) add(match Predicate, s sink) FilterID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.filters = append(r.filters, &filter{id: r.nextID, match: match, sink: s})
	return r.nextID
}

func (r *registry) remove(id FilterID) bool {
	r.mu.Lock()
	var removed *filter
	for i, f := range r.filters {
		if f.id == id {
			removed = f
			r.filters = append(r.filters[:i:i], r.filters[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if removed == nil {
		return false
	}
	removed.sink.close()
	return true
}

func (r *registry) removeAll() {
	r.mu.Lock()
	old := r.filters
	r.filters = nil
	r.mu.Unlock()
	for _, f := range old {
		f.sink.close()
	}
}

func (r *registry) lookup(id FilterID) (*filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.filters {
		if f.id == id {
			return f, true
		}
	}
	return nil, false
}

// snapshot returns the current filters, oldest first.
func (r *registry) snapshot() []*filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.filters)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}
