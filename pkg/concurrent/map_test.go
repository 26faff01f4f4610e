package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStoreLoad(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	m.Store("a", 1)

	v, ok := m.Load("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Load("b")
	assert.False(t, ok)
}

func TestMapDelete(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Delete("a")

	_, ok := m.Load("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Length())
}

func TestMapRange(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 3, sum)
}

func TestMapConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewMap[int, int]()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Store(i, i)
			m.Load(i)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, m.Length())
}
