package hardware

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// ErrClockNotFound is returned by a ClockProvider for an unknown name.
var ErrClockNotFound = errors.New("clock not found")

// ErrClockNotReady is returned by a ClockProvider when the clock exists but
// its supplier has not registered it yet. Callers should retry later.
var ErrClockNotReady = errors.New("clock not ready")

// Clock is a gateable clock with a fixed rate.
type Clock interface {
	Rate() physic.Frequency
	Enable() error
	Disable()
}

// ClockProvider resolves clocks by name. An empty name selects the
// device's single functional clock.
type ClockProvider interface {
	Clock(name string) (Clock, error)
}

// FixedClock is a Clock with a constant rate and an enable count. It backs
// the clocks listed in the device profile and the mock setup.
type FixedClock struct {
	mu       sync.Mutex
	name     string
	rate     physic.Frequency
	enabled  int
	failNext bool
}

// NewFixedClock creates a disabled clock running at rate.
func NewFixedClock(name string, rate physic.Frequency) *FixedClock {
	return &FixedClock{name: name, rate: rate}
}

func (c *FixedClock) Rate() physic.Frequency { return c.rate }

func (c *FixedClock) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return fmt.Errorf("clock %s: enable failed", c.name)
	}
	c.enabled++
	return nil
}

func (c *FixedClock) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled > 0 {
		c.enabled--
	}
}

// EnableCount returns the number of outstanding Enable calls.
func (c *FixedClock) EnableCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// FailNextEnable makes the next Enable call return an error.
func (c *FixedClock) FailNextEnable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = true
}

func (c *FixedClock) String() string {
	return fmt.Sprintf("%s@%s", c.name, c.rate)
}

// ClockSet is a ClockProvider over a fixed set of named clocks. Names in
// pending resolve to ErrClockNotReady.
type ClockSet struct {
	clocks  map[string]Clock
	pending map[string]bool
}

// NewClockSet creates an empty set.
func NewClockSet() *ClockSet {
	return &ClockSet{
		clocks:  make(map[string]Clock),
		pending: make(map[string]bool),
	}
}

// Add registers clk under name.
func (s *ClockSet) Add(name string, clk Clock) *ClockSet {
	s.clocks[name] = clk
	delete(s.pending, name)
	return s
}

// MarkPending declares name as known but not yet available.
func (s *ClockSet) MarkPending(name string) *ClockSet {
	s.pending[name] = true
	return s
}

func (s *ClockSet) Clock(name string) (Clock, error) {
	if clk, ok := s.clocks[name]; ok {
		return clk, nil
	}
	if s.pending[name] {
		return nil, fmt.Errorf("%q: %w", name, ErrClockNotReady)
	}
	return nil, fmt.Errorf("%q: %w", name, ErrClockNotFound)
}
