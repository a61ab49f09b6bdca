package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPop(t *testing.T) {
	f := NewFifo[int](3)
	assert.Equal(t, 3, f.GetSpace())
	assert.True(t, f.Push(1))
	assert.True(t, f.Push(2))
	assert.True(t, f.Push(3))
	assert.False(t, f.Push(4))
	assert.Equal(t, 3, f.GetOccupied())
	assert.Equal(t, 0, f.GetSpace())

	v, ok := f.Peek()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = f.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// Wraps around
	assert.True(t, f.Push(4))
	var got []int
	f.Each(func(element int) { got = append(got, element) })
	assert.Equal(t, []int{2, 3, 4}, got)
	for _, expected := range []int{2, 3, 4} {
		v, ok = f.Pop()
		assert.True(t, ok)
		assert.Equal(t, expected, v)
	}
	_, ok = f.Pop()
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	f := NewFifo[*int](2)
	x := 5
	f.Push(&x)
	f.Reset()
	assert.Equal(t, 0, f.GetOccupied())
	_, ok := f.Peek()
	assert.False(t, ok)
}
