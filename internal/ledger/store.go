package ledger

import (
	"context"
	"errors"

	"consultation-service/internal/model"
)

var (
	// ErrNotFound means no ledger exists for the user. Callers must surface
	// it, never substitute a default ledger.
	ErrNotFound = errors.New("ledger not found")

	// ErrInsufficientFunds means a debit would take the wallet below zero.
	// The ledger is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Store is the per-user billing state. Every mutating operation is atomic for
// its user key: a metering debit and a concurrent top-up credit for the same
// user must serialize, never interleave into a lost update.
type Store interface {
	Get(ctx context.Context, userID string) (*model.UserLedger, error)
	Create(ctx context.Context, l *model.UserLedger) (*model.UserLedger, error)

	// ConsumeFreeMinutes increments freeMinutesUsed by minutes, clamped at
	// model.FreeTrialCap, and flips IsTrialActive to false once the cap is
	// reached. The flip is one-way for the life of the ledger.
	ConsumeFreeMinutes(ctx context.Context, userID string, minutes int) (*model.UserLedger, error)

	// Debit subtracts amount from the wallet. Fails with
	// ErrInsufficientFunds, leaving the ledger unchanged, when the balance
	// does not cover the amount.
	Debit(ctx context.Context, userID string, amount int64) (*model.UserLedger, error)

	// Credit adds a positive amount to the wallet.
	Credit(ctx context.Context, userID string, amount int64) (*model.UserLedger, error)

	// List and Count page over all ledgers, used by the cache synchronizer.
	List(ctx context.Context, limit, offset int) ([]model.UserLedger, error)
	Count(ctx context.Context) (int64, error)
}
