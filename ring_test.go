package serial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := newRing[string](3)
	r.push("a")
	r.push("b")
	require.Equal(t, 2, r.len())
	require.Equal(t, 3, r.cap())

	v, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, "a", v)
	v, _ = r.pop()
	require.Equal(t, "b", v)
	_, ok = r.pop()
	require.False(t, ok)
}

func TestRing_OverwritesOldest(t *testing.T) {
	const capacity = 4
	r := newRing[int](capacity)

	var evicted []int
	for i := 0; i < capacity+3; i++ {
		if old, overwrote := r.push(i); overwrote {
			evicted = append(evicted, old)
		}
	}
	require.Equal(t, []int{0, 1, 2}, evicted)
	require.Equal(t, capacity, r.len())

	var got []int
	for {
		v, ok := r.pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Equal(t, []int{3, 4, 5, 6}, got)
}

func TestRing_Reset(t *testing.T) {
	r := newRing[string](2)
	r.push("a")
	r.push("b")
	r.push("c")
	r.reset()
	require.Zero(t, r.len())

	r.push("d")
	v, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, "d", v)
}
