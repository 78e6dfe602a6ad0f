package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueWrapsAround(t *testing.T) {
	q := NewQueue[int](3)
	assert.Equal(t, 3, q.Depth())

	for round := 0; round < 4; round++ {
		require.True(t, q.Push(round*10))
		require.True(t, q.Push(round*10+1))
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, round*10, v)
		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, round*10+1, v)
	}
	assert.Zero(t, q.Len())
}

func TestQueueBounds(t *testing.T) {
	q := NewQueue[string](2)
	_, ok := q.Pop()
	assert.False(t, ok)

	assert.True(t, q.Push("a"))
	assert.True(t, q.Push("b"))
	assert.True(t, q.Full())
	assert.False(t, q.Push("c"))
	assert.Equal(t, 2, q.Len())

	q.Reset()
	assert.Zero(t, q.Len())
	assert.False(t, q.Full())
	assert.True(t, q.Push("d"))
	v, _ := q.Pop()
	assert.Equal(t, "d", v)
}

func TestByteFIFO(t *testing.T) {
	f := NewByteFIFO(2)
	require.NoError(t, f.WriteByte(1))
	f.Stall(true)
	assert.False(t, f.Ready())
	assert.ErrorIs(t, f.WriteByte(2), ErrSinkFull)

	f.Stall(false)
	require.NoError(t, f.WriteByte(2))
	assert.ErrorIs(t, f.WriteByte(3), ErrSinkFull)

	buf := make([]byte, 1)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, []byte{2}, f.Drain())

	n, err = f.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
