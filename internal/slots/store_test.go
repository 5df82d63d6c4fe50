package slots

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	name string
	seq  int
}

func push(t *testing.T, s *Store[item], name string, seq int) {
	t.Helper()
	ok := s.Construct(func(slot *item) {
		slot.name = name
		slot.seq = seq
	})
	require.True(t, ok, "construct %s", name)
}

func drainNames(s *Store[item]) []string {
	var out []string
	for s.ConsumeFront(func(e *item) { out = append(out, e.name) }) {
	}
	return out
}

func TestStoreCapacityClamp(t *testing.T) {
	t.Parallel()
	s := New[item](0)
	assert.Equal(t, 1, s.Cap())
	assert.True(t, s.Empty())
}

func TestStoreConstructUntilFull(t *testing.T) {
	t.Parallel()
	s := New[item](3)
	for i := 0; i < 3; i++ {
		push(t, s, fmt.Sprintf("t%d", i), i)
	}
	assert.True(t, s.Full())
	assert.Equal(t, 3, s.Size())

	called := false
	ok := s.Construct(func(*item) { called = true })
	assert.False(t, ok)
	assert.False(t, called, "builder must not run when full")
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []string{"t0", "t1", "t2"}, drainNames(s))
}

func TestStoreConsumeFrontEmpty(t *testing.T) {
	t.Parallel()
	s := New[item](2)
	called := false
	assert.False(t, s.ConsumeFront(func(*item) { called = true }))
	assert.False(t, called)
}

func TestStoreWrapAroundKeepsOrder(t *testing.T) {
	t.Parallel()
	s := New[item](3)
	push(t, s, "a", 0)
	push(t, s, "b", 1)
	require.True(t, s.ConsumeFront(nil))
	push(t, s, "c", 2)
	push(t, s, "d", 3)
	assert.True(t, s.Full())
	assert.Equal(t, []string{"b", "c", "d"}, drainNames(s))
}

func TestStoreConsumeFrontVisitorCanReenter(t *testing.T) {
	t.Parallel()
	s := New[item](1)
	push(t, s, "first", 0)
	ok := s.ConsumeFront(func(e *item) {
		// The slot is already free while the visitor runs.
		push(t, s, "second", 1)
	})
	require.True(t, ok)
	assert.Equal(t, []string{"second"}, drainNames(s))
}

func TestStoreRemoveIf(t *testing.T) {
	t.Parallel()
	s := New[item](5)
	// Force a wrapped layout before removing.
	push(t, s, "x", 0)
	push(t, s, "x", 1)
	require.True(t, s.ConsumeFront(nil))
	require.True(t, s.ConsumeFront(nil))
	for i, n := range []string{"a", "x", "b", "x", "c"} {
		push(t, s, n, i)
	}

	var removed []int
	n := s.RemoveIf(func(e *item) bool { return e.name == "x" }, func(e *item) { removed = append(removed, e.seq) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 3}, removed)
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []string{"a", "b", "c"}, drainNames(s))
}

func TestStoreRemoveIfNoMatch(t *testing.T) {
	t.Parallel()
	s := New[item](2)
	push(t, s, "a", 0)
	assert.Equal(t, 0, s.RemoveIf(func(*item) bool { return false }, nil))
	assert.Equal(t, 0, s.RemoveIf(nil, nil))
	assert.Equal(t, 1, s.Size())
}

func TestStoreClear(t *testing.T) {
	t.Parallel()
	s := New[item](4)
	for i, n := range []string{"a", "b", "c"} {
		push(t, s, n, i)
	}
	var seen []string
	assert.Equal(t, 3, s.Clear(func(e *item) { seen = append(seen, e.name) }))
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.True(t, s.Empty())

	// Reusable after clear.
	push(t, s, "d", 3)
	assert.Equal(t, []string{"d"}, drainNames(s))
}

func TestStoreConcurrentProducers(t *testing.T) {
	t.Parallel()
	const perProducer = 200
	s := New[item](perProducer * 2)

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				name := fmt.Sprintf("p%d-%d", p, i)
				s.Construct(func(slot *item) { slot.name = name; slot.seq = i })
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, perProducer*2, s.Size())
	seen := map[string]bool{}
	last := map[byte]int{'0': -1, '1': -1}
	for s.ConsumeFront(func(e *item) {
		require.False(t, seen[e.name], "duplicate %s", e.name)
		seen[e.name] = true
		// Per-producer FIFO order survives interleaving.
		p := e.name[1]
		require.Greater(t, e.seq, last[p])
		last[p] = e.seq
	}) {
	}
	assert.Len(t, seen, perProducer*2)
}
