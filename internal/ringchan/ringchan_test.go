package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the last three survive.
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestTrySendFailsWhenFull(t *testing.T) {
	rc := New[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestForceSendReportsDrop(t *testing.T) {
	rc := New[int](1)

	assert.False(t, rc.ForceSend(1))
	assert.True(t, rc.ForceSend(2))

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestReceiveAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(7)
	rc.Close()

	v, ok := rc.Receive()
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestLenAndCap(t *testing.T) {
	rc := New[int](4)
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())

	rc.Send(1)
	rc.Send(2)
	assert.Equal(t, 2, rc.Len())
}
