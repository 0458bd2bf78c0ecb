package util

import (
	"sync"
	"time"
)

// Clock supplies timestamps for orders and trades
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// StepClock returns a deterministic, strictly increasing time; each Now call
// advances by Step.
type StepClock struct {
	mu   sync.Mutex
	cur  time.Time
	Step time.Duration
}

func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{cur: start, Step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(c.Step)
	return c.cur
}
