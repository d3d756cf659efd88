package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTimerFiresOnce(t *testing.T) {
	var fired atomic.Int32
	tm := newSessionTimer(func() { fired.Add(1) })
	tm.Arm(5 * time.Millisecond)
	tm.Arm(5 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, tm.Armed())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSessionTimerDisarmAndStop(t *testing.T) {
	var fired atomic.Int32
	tm := newSessionTimer(func() { fired.Add(1) })
	tm.Arm(10 * time.Millisecond)
	tm.Disarm()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	tm.Reset(5 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	tm.Stop()
	tm.Arm(time.Millisecond)
	tm.Reset(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "stopped timer never fires")
}

func TestSessionTimerResetPostponesExpiry(t *testing.T) {
	var fired atomic.Int32
	tm := newSessionTimer(func() { fired.Add(1) })
	tm.Arm(40 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	tm.Reset(200 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	tm.Stop()
}
