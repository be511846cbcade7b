package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"consultation-service/internal/billing"
	"consultation-service/internal/clock"
	"consultation-service/internal/ledger"
	"consultation-service/internal/recorder"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const billTimeout = 10 * time.Second

var (
	// ErrSessionActive means the user already has a live session; a second
	// meter for the same ledger is rejected, not queued.
	ErrSessionActive = errors.New("session already active for user")

	ErrSessionNotFound = errors.New("session not found")
)

// State of one consultation session.
type State string

const (
	StateStarting  State = "starting"
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateEnded     State = "ended"
)

// Termination is delivered to the caller when billing ends a session, so the
// UI can prompt for a recharge instead of silently closing.
type Termination struct {
	SessionID string
	UserID    string
	Reason    error
}

// Status is the externally visible view of a session.
type Status struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	State          State  `json:"state"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	CostBasis      string `json:"cost_basis"`
}

// Session is one metered consultation. Its tick loop is the only writer of
// billing state for the session; Stop races are resolved under mu.
type Session struct {
	ID     string
	UserID string

	mu        sync.Mutex
	state     State
	stopped   bool
	startedAt time.Time
	endedAt   time.Time

	engine   *billing.Engine
	ticker   clock.Ticker
	done     chan struct{}
	haltOnce sync.Once
}

func (s *Session) halt() {
	s.haltOnce.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}

// Controller owns session lifecycles. It enforces one live session per user
// and is the only component that starts or stops metering clocks.
type Controller struct {
	store    ledger.Store
	rec      *recorder.Recorder
	clk      clock.Clock
	interval time.Duration
	cost     int64
	log      *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string
	closed   bool

	terminations chan Termination
	wg           sync.WaitGroup
}

func NewController(store ledger.Store, rec *recorder.Recorder, clk clock.Clock, interval time.Duration, costPerMinute int64, log *logrus.Logger) *Controller {
	return &Controller{
		store:        store,
		rec:          rec,
		clk:          clk,
		interval:     interval,
		cost:         costPerMinute,
		log:          log,
		sessions:     make(map[string]*Session),
		byUser:       make(map[string]string),
		terminations: make(chan Termination, 16),
	}
}

// Terminations delivers billing-driven session terminations.
func (c *Controller) Terminations() <-chan Termination {
	return c.terminations
}

// Start opens a session for the user and begins metering. Fails with
// ErrSessionActive if the user already has a live one and with
// ledger.ErrNotFound if no ledger exists.
func (c *Controller) Start(ctx context.Context, userID string) (*Session, error) {
	engine, err := billing.NewEngine(ctx, c.store, c.rec, userID, c.cost, c.log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		state:     StateStarting,
		startedAt: c.clk.Now(),
		engine:    engine,
		ticker:    c.clk.NewTicker(c.interval),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.ticker.Stop()
		return nil, errors.New("controller closed")
	}
	if _, live := c.byUser[userID]; live {
		c.mu.Unlock()
		s.ticker.Stop()
		return nil, fmt.Errorf("user %s: %w", userID, ErrSessionActive)
	}
	c.sessions[s.ID] = s
	c.byUser[userID] = s.ID
	c.mu.Unlock()

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()

	c.wg.Add(1)
	go c.run(s)

	c.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    userID,
		"phase":      engine.Phase().String(),
	}).Info("session started")

	return s, nil
}

func (c *Controller) run(s *Session) {
	defer c.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C():
			out, billed := c.bill(s)
			if !billed {
				return
			}
			if out.Result == billing.Terminate {
				c.suspend(s, out.Reason)
				return
			}
		}
	}
}

// bill runs the engine for one tick. The stop flag is checked under the
// session mutex before any ledger mutation, so a tick that was in flight
// when Stop was called bills nothing.
func (c *Controller) bill(s *Session) (billing.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return billing.Outcome{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), billTimeout)
	defer cancel()

	out, err := s.engine.Tick(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Fatal precondition: the ledger vanished under a live session.
			return billing.Outcome{Result: billing.Terminate, Reason: err}, true
		}
		// Transient store failure: this tick bills nothing and is not
		// retried; the next tick decides again.
		c.log.WithError(err).WithFields(logrus.Fields{
			"session_id": s.ID,
			"user_id":    s.UserID,
		}).Error("billing tick failed")
		return billing.Outcome{Result: billing.Continue}, true
	}

	return out, true
}

// suspend transitions the session out of Active on a billing termination and
// notifies the caller. The session stays Suspended until Stop acknowledges
// it; no funds are re-checked automatically.
func (c *Controller) suspend(s *Session, reason error) {
	s.mu.Lock()
	s.stopped = true
	s.state = StateSuspended
	s.endedAt = c.clk.Now()
	s.mu.Unlock()
	s.halt()

	c.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.UserID,
		"reason":     reason,
	}).Info("session suspended")

	select {
	case c.terminations <- Termination{SessionID: s.ID, UserID: s.UserID, Reason: reason}:
	default:
		c.log.WithField("session_id", s.ID).Warn("termination notice dropped, channel full")
	}
}

// Stop ends a session. Idempotent: stopping an ended or suspended session
// only confirms the Ended state. Effective immediately, no tick after the
// call mutates the ledger.
func (c *Controller) Stop(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.endedAt = c.clk.Now()
	}
	alreadyEnded := s.state == StateEnded
	s.state = StateEnded
	s.mu.Unlock()
	s.halt()

	c.mu.Lock()
	if c.byUser[s.UserID] == s.ID {
		delete(c.byUser, s.UserID)
	}
	c.mu.Unlock()

	if !alreadyEnded {
		c.log.WithFields(logrus.Fields{
			"session_id": s.ID,
			"user_id":    s.UserID,
		}).Info("session ended")
	}
	return nil
}

// Status reports the session's state, elapsed time and cost basis.
func (c *Controller) Status(sessionID string) (Status, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.endedAt
	if s.state == StateActive || s.state == StateStarting {
		end = c.clk.Now()
	}

	costBasis := fmt.Sprintf("%d/min", s.engine.CostPerMinute())
	if s.engine.Phase() == billing.DrawingFree {
		costBasis = "free_trial"
	}

	return Status{
		SessionID:      s.ID,
		UserID:         s.UserID,
		State:          s.state,
		ElapsedSeconds: int64(end.Sub(s.startedAt) / time.Second),
		CostBasis:      costBasis,
	}, nil
}

// Close stops every live session and waits for their tick loops.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		_ = c.Stop(id)
	}
	c.wg.Wait()
	close(c.terminations)
}
