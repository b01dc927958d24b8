package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimers_FireAndRestart(t *testing.T) {
	timers := NewTimers()
	defer timers.WaitClose()

	timers.Start("tick", 10*time.Millisecond)

	select {
	case nt := <-timers.C:
		require.Equal(t, "tick", nt.Name)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	timers.Restart("tick")
	select {
	case nt := <-timers.C:
		require.Equal(t, "tick", nt.Name)
	case <-time.After(time.Second):
		t.Fatal("restarted timer did not fire")
	}
}

func TestTimers_RestartUnknownIsHarmless(t *testing.T) {
	timers := NewTimers()
	defer timers.WaitClose()
	timers.Restart("missing")
}
