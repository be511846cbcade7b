package billing

import (
	"context"
	"errors"

	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	"consultation-service/internal/recorder"
	"github.com/sirupsen/logrus"
)

// DebitDescription labels every paid-minute transaction.
const DebitDescription = "Chat Session"

// Phase is the engine's drawing state for one session.
type Phase int

const (
	// DrawingFree consumes the free-trial allowance.
	DrawingFree Phase = iota
	// DrawingPaid debits the wallet per minute.
	DrawingPaid
	// Exhausted is terminal: the wallet could not cover a paid minute.
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case DrawingFree:
		return "drawing_free"
	case DrawingPaid:
		return "drawing_paid"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result tells the session controller whether to keep the session alive.
type Result int

const (
	Continue Result = iota
	Terminate
)

// Outcome is the engine's verdict for one tick.
type Outcome struct {
	Result Result
	// Reason is set when Result is Terminate.
	Reason error
}

// Engine converts delivered ticks into allowance consumption or wallet
// debits for a single session. It is driven from one goroutine (the session
// tick loop) and holds no state shared across sessions.
type Engine struct {
	userID        string
	store         ledger.Store
	rec           *recorder.Recorder
	costPerMinute int64
	phase         Phase
	log           *logrus.Logger
}

// NewEngine reads the ledger once to pick the starting phase: DrawingFree
// while the trial is active, DrawingPaid otherwise.
func NewEngine(ctx context.Context, store ledger.Store, rec *recorder.Recorder, userID string, costPerMinute int64, log *logrus.Logger) (*Engine, error) {
	l, err := store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	phase := DrawingPaid
	if l.IsTrialActive {
		phase = DrawingFree
	}

	return &Engine{
		userID:        userID,
		store:         store,
		rec:           rec,
		costPerMinute: costPerMinute,
		phase:         phase,
		log:           log,
	}, nil
}

// Phase returns the current drawing phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// CostPerMinute returns the configured paid-minute rate.
func (e *Engine) CostPerMinute() int64 {
	return e.costPerMinute
}

// Tick bills exactly one elapsed interval. A tick draws either a free minute
// or a paid one, never both: the tick that exhausts the trial is itself free
// and only moves later ticks to the paid phase.
func (e *Engine) Tick(ctx context.Context) (Outcome, error) {
	switch e.phase {
	case DrawingFree:
		l, err := e.store.ConsumeFreeMinutes(ctx, e.userID, 1)
		if err != nil {
			return Outcome{}, err
		}
		if !l.IsTrialActive {
			e.phase = DrawingPaid
			e.log.WithFields(logrus.Fields{
				"user_id":      e.userID,
				"minutes_used": l.FreeMinutesUsed,
			}).Info("free trial exhausted, switching to paid billing")
		}
		return Outcome{Result: Continue}, nil

	case DrawingPaid:
		l, err := e.store.Debit(ctx, e.userID, e.costPerMinute)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			e.phase = Exhausted
			e.log.WithFields(logrus.Fields{
				"user_id": e.userID,
				"cost":    e.costPerMinute,
			}).Info("wallet exhausted, terminating session")
			return Outcome{Result: Terminate, Reason: ledger.ErrInsufficientFunds}, nil
		}
		if err != nil {
			return Outcome{}, err
		}

		if _, err := e.rec.Record(ctx, e.userID, e.costPerMinute, model.KindDebit, DebitDescription, ""); err != nil {
			// The debit is applied; a failed audit write is logged, not
			// retried, so the charge is never doubled.
			e.log.WithError(err).WithField("user_id", e.userID).Error("failed to record debit transaction")
		}

		e.log.WithFields(logrus.Fields{
			"user_id": e.userID,
			"cost":    e.costPerMinute,
			"balance": l.WalletBalance,
		}).Debug("paid minute billed")
		return Outcome{Result: Continue}, nil

	default:
		// Exhausted is terminal; a stray tick bills nothing.
		return Outcome{Result: Terminate, Reason: ledger.ErrInsufficientFunds}, nil
	}
}
