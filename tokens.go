package serial

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// TokenID identifies a token for as long as it is buffered. IDs increase
// monotonically and are never reused.
type TokenID uint64

// Token is a delimited fragment of the stream.
type Token struct {
	ID      TokenID
	Text    string
	Created time.Time
}

type storedToken struct {
	Token
	claimed bool // matched or handed to the default handler, awaiting dispatch
}

// tokenStore holds tokens from creation until they are dispatched or expire.
// Callers never run user code while holding mu.
type tokenStore struct {
	mu     sync.Mutex
	nextID TokenID
	tokens map[TokenID]*storedToken
	now    func() time.Time
}

func newTokenStore() *tokenStore {
	return &tokenStore{
		tokens: make(map[TokenID]*storedToken),
		now:    time.Now,
	}
}

func (s *tokenStore) insert(text string) TokenID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.tokens[id] = &storedToken{Token: Token{ID: id, Text: text, Created: s.now()}}
	return id
}

func (s *tokenStore) get(id TokenID) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return Token{}, false
	}
	return t.Token, true
}

func (s *tokenStore) erase(id TokenID) {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
}

func (s *tokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *tokenStore) clear() {
	s.mu.Lock()
	clear(s.tokens)
	s.mu.Unlock()
}

// unclaimed returns the tokens among ids that are still waiting for a
// filter, in stream order. With no ids it returns every waiting token.
func (s *tokenStore) unclaimed(ids []TokenID) []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Token
	if ids == nil {
		for _, t := range s.tokens {
			if !t.claimed {
				out = append(out, t.Token)
			}
		}
	} else {
		seen := make(map[TokenID]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if t, ok := s.tokens[id]; ok && !t.claimed {
				out = append(out, t.Token)
			}
		}
	}
	slices.SortFunc(out, func(a, b Token) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// expired returns the ids of waiting tokens older than ttl, in stream order.
func (s *tokenStore) expired(ttl time.Duration) []TokenID {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []TokenID
	for id, t := range s.tokens {
		if !t.claimed && now.Sub(t.Created) > ttl {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// claim marks a waiting token as matched. It reports false when the token
// is gone or already claimed.
func (s *tokenStore) claim(id TokenID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.claimed {
		return false
	}
	t.claimed = true
	return true
}

// prune resolves every waiting token older than ttl. When keep is set the
// tokens are claimed for the default handler and stay resolvable until
// dispatched, otherwise they are erased. It returns the affected ids.
func (s *tokenStore) prune(ttl time.Duration, keep bool) []TokenID {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []TokenID
	for id, t := range s.tokens {
		if t.claimed || now.Sub(t.Created) <= ttl {
			continue
		}
		if keep {
			t.claimed = true
		} else {
			delete(s.tokens, id)
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
