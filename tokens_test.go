package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*tokenStore, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTokenStore()
	s.now = clock.Now
	return s, clock
}

func TestTokenStore_InsertGetErase(t *testing.T) {
	s, clock := newTestStore()

	id := s.insert("V=05:06")
	tok, ok := s.get(id)
	require.True(t, ok)
	require.Equal(t, "V=05:06", tok.Text)
	require.Equal(t, clock.now, tok.Created)

	s.erase(id)
	_, ok = s.get(id)
	require.False(t, ok)
	require.Zero(t, s.len())
}

func TestTokenStore_IDsNeverReused(t *testing.T) {
	s, _ := newTestStore()

	a := s.insert("a")
	s.erase(a)
	b := s.insert("b")
	s.clear()
	c := s.insert("c")

	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestTokenStore_ClaimOnce(t *testing.T) {
	s, _ := newTestStore()

	id := s.insert("x")
	require.True(t, s.claim(id))
	require.False(t, s.claim(id))
	require.False(t, s.claim(id+1))

	// claimed tokens stay resolvable until erased
	_, ok := s.get(id)
	require.True(t, ok)
	require.Empty(t, s.unclaimed(nil))
}

func TestTokenStore_UnclaimedInStreamOrder(t *testing.T) {
	s, _ := newTestStore()

	var ids []TokenID
	for _, text := range []string{"a", "b", "c", "d"} {
		ids = append(ids, s.insert(text))
	}
	s.claim(ids[1])

	var texts []string
	for _, tok := range s.unclaimed(nil) {
		texts = append(texts, tok.Text)
	}
	require.Equal(t, []string{"a", "c", "d"}, texts)

	got := s.unclaimed([]TokenID{ids[3], ids[0], ids[3], ids[1]})
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Text)
	require.Equal(t, "d", got[1].Text)
}

func TestTokenStore_Expired(t *testing.T) {
	s, clock := newTestStore()

	old := s.insert("old")
	clock.Advance(8 * time.Millisecond)
	young := s.insert("young")
	clock.Advance(5 * time.Millisecond)

	require.Equal(t, []TokenID{old}, s.expired(10*time.Millisecond))
	s.claim(old)
	require.Empty(t, s.expired(10*time.Millisecond))

	clock.Advance(10 * time.Millisecond)
	require.Equal(t, []TokenID{young}, s.expired(10*time.Millisecond))
}

func TestTokenStore_PruneDrops(t *testing.T) {
	s, clock := newTestStore()

	a := s.insert("a")
	b := s.insert("b")
	s.claim(b)
	clock.Advance(15 * time.Millisecond)
	c := s.insert("c")

	require.Equal(t, []TokenID{a}, s.prune(10*time.Millisecond, false))
	_, ok := s.get(a)
	require.False(t, ok)
	_, ok = s.get(b)
	require.True(t, ok, "claimed tokens are left for the dispatcher")
	_, ok = s.get(c)
	require.True(t, ok)
}

func TestTokenStore_PruneKeepsForDefault(t *testing.T) {
	s, clock := newTestStore()

	a := s.insert("a")
	clock.Advance(15 * time.Millisecond)

	require.Equal(t, []TokenID{a}, s.prune(10*time.Millisecond, true))
	_, ok := s.get(a)
	require.True(t, ok)
	require.False(t, s.claim(a))
	require.Empty(t, s.prune(10*time.Millisecond, true))
}
