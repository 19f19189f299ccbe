package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		assert.False(t, r.Enqueue(i))
	}
	assert.Equal(t, []int{1, 2}, r.DequeueBatch(2))
	assert.Equal(t, []int{3}, r.DequeueBatch(10))
	assert.Nil(t, r.DequeueBatch(1))
}

func TestRing_DropsOldestWhenFull(t *testing.T) {
	r := NewRing[string](2)
	r.Enqueue("a")
	r.Enqueue("b")
	assert.True(t, r.Enqueue("c"))

	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, []string{"b", "c"}, r.DequeueBatch(5))
}

func TestRing_ConcurrentProducers(t *testing.T) {
	r := NewRing[int](1000)
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 500, r.Len())
	assert.Equal(t, int64(0), r.Dropped())
}
