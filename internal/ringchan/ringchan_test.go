package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndReceive(t *testing.T) {
	rc := New[int](4)
	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.Equal(t, 2, rc.Len())
	assert.Equal(t, 4, rc.Cap())

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	rc := New[int](2)
	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.True(t, rc.Send(3))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestTryReceiveEmpty(t *testing.T) {
	rc := New[string](1)
	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestCloseDrains(t *testing.T) {
	rc := New[int](2)
	rc.Send(7)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7}, got)
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
