package orchestrator

import (
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
)

// countdown decrements a SessionTimer once per interval and calls onExpire
// when it reaches zero.
type countdown struct {
	mu    sync.Mutex
	timer domain.SessionTimer

	stop     chan struct{}
	stopOnce sync.Once
}

func startCountdown(totalSeconds int, interval time.Duration, onTick func(), onExpire func()) *countdown {
	c := &countdown{
		timer: domain.SessionTimer{
			RemainingSeconds: totalSeconds,
			TotalSeconds:     totalSeconds,
			Running:          true,
		},
		stop: make(chan struct{}),
	}
	go c.run(interval, onTick, onExpire)
	return c
}

func (c *countdown) run(interval time.Duration, onTick func(), onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.tick() {
			onExpire()
			return
		}
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.decrement() {
				onTick()
			}
		}
	}
}

// tick reports whether the countdown has run out.
func (c *countdown) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer.Running && c.timer.RemainingSeconds <= 0 {
		c.timer.Running = false
		return true
	}
	return false
}

func (c *countdown) decrement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.timer.Running {
		return false
	}
	c.timer.RemainingSeconds--
	return true
}

// Stop halts the countdown. It does not wait for an in-flight expiry callback.
func (c *countdown) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.timer.Running = false
		c.mu.Unlock()
		close(c.stop)
	})
}

func (c *countdown) Snapshot() domain.SessionTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}
