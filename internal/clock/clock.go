package clock

import (
	"sync"
	"time"
)

// Ticker delivers one tick per elapsed billing interval.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock produces tickers and the current time. The session controller takes
// it as a dependency so tests can drive billing deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Wall is the production clock. Its tickers are backed by time.Ticker, which
// schedules ticks relative to the start rather than chaining them off the
// previous delivery, and drops ticks for a slow receiver instead of queueing
// a burst.
type Wall struct{}

func NewWall() Wall {
	return Wall{}
}

func (Wall) Now() time.Time {
	return time.Now()
}

func (Wall) NewTicker(d time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(d)}
}

type wallTicker struct {
	t *time.Ticker
}

func (w *wallTicker) C() <-chan time.Time {
	return w.t.C
}

func (w *wallTicker) Stop() {
	w.t.Stop()
}

// Manual is a test clock driven by explicit Advance calls.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTicker{
		clock:    m,
		interval: d,
		next:     m.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward and fires due tickers. Like the wall
// ticker, a ticker whose receiver has not drained the previous tick gets no
// backlog: at most one tick is pending at any time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	for _, t := range m.tickers {
		t.fire(m.now)
	}
}

type manualTicker struct {
	clock    *Manual
	interval time.Duration
	next     time.Time
	stopped  bool
	ch       chan time.Time
}

func (t *manualTicker) C() <-chan time.Time {
	return t.ch
}

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// fire is called with the clock mutex held.
func (t *manualTicker) fire(now time.Time) {
	for !t.stopped && !t.next.After(now) {
		t.next = t.next.Add(t.interval)
		select {
		case t.ch <- now:
		default:
			// Receiver is behind; drop rather than queue.
		}
	}
}
