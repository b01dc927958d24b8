package timer

import (
	"sync"
	"time"

	"github.com/sutehoge/catapult-server/internal/logger"
)

var log = logger.CreateForPackage()

type (
	// Timers keeps track of multiple named timers. When one of them expires
	// it is sent on C; the owner runs its task and calls Restart.
	Timers struct {
		mu     sync.Mutex
		timers map[string]*NamedTimer
		C      chan *NamedTimer
	}

	// NamedTimer is a time.Timer with a name.
	NamedTimer struct {
		Name     string
		Duration time.Duration
		timer    *time.Timer
		stopped  bool
	}
)

func NewTimers() *Timers {
	return &Timers{
		timers: make(map[string]*NamedTimer),
		C:      make(chan *NamedTimer, 8),
	}
}

// Start registers a timer that fires after d.
func (t *Timers) Start(id string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nt := &NamedTimer{Name: id, Duration: d}
	nt.timer = time.AfterFunc(d, func() { t.fire(nt) })
	t.timers[id] = nt
}

// Restart re-arms the timer for another interval.
func (t *Timers) Restart(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nt, found := t.timers[id]
	if !found {
		log.Warning("timer %v not found", id)
		return
	}
	if nt.stopped {
		return
	}
	nt.timer.Reset(nt.Duration)
}

func (t *Timers) fire(nt *NamedTimer) {
	t.mu.Lock()
	stopped := nt.stopped
	t.mu.Unlock()
	if !stopped {
		t.C <- nt
	}
}

// WaitClose stops all timers.
func (t *Timers) WaitClose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, nt := range t.timers {
		nt.stopped = true
		nt.timer.Stop()
	}
}
