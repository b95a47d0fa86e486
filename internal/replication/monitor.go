package replication

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor polls one peer on a fixed interval and reports it down after
// maxFailures consecutive failed checks. It fires at most once, then stops.
type Monitor struct {
	checkFunc   func(ctx context.Context) error // one liveness probe
	onDown      func()                          // called once when the peer is declared down
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.Mutex
	wg          sync.WaitGroup
	fails       int
	maxFailures int
}

// NewMonitor creates a monitor. A maxFailures below one is treated as one.
func NewMonitor(interval time.Duration, maxFailures int, check func(ctx context.Context) error, onDown func()) *Monitor {
	if maxFailures < 1 {
		maxFailures = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		checkFunc:   check,
		onDown:      onDown,
		ctx:         ctx,
		cancel:      cancel,
		interval:    interval,
		maxFailures: maxFailures,
	}
}

// Start runs the polling loop in a new goroutine
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.check() {
				m.onDown()
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// check runs one probe and reports whether the failure threshold was reached
func (m *Monitor) check() bool {
	err := m.checkFunc(m.ctx)
	if m.ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		if m.fails > 0 {
			log.Printf("monitor: peer recovered after %d failed checks", m.fails)
		}
		m.fails = 0
		return false
	}
	m.fails++
	log.Printf("monitor: check failed (attempt %d/%d): %v", m.fails, m.maxFailures, err)
	return m.fails >= m.maxFailures
}

// Failures returns the current count of consecutive failed checks
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fails
}

// Stop cancels the loop and waits for it to exit. It must not be called
// from onDown.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}
