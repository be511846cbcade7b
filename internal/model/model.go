package model

import (
	"time"
)

// FreeTrialCap is the maximum number of consultation minutes covered by the
// free trial before paid billing starts.
const FreeTrialCap = 5

// UserLedger holds the billing state for a single user. Mutated only by the
// billing engine (consumption) and the top-up path (credit).
type UserLedger struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID          string `gorm:"uniqueIndex:idx_ledger_user_id;size:64;not null" json:"user_id"`
	WalletBalance   int64  `gorm:"not null;default:0" json:"wallet_balance"`
	FreeMinutesUsed int    `gorm:"not null;default:0" json:"free_minutes_used"`
	IsTrialActive   bool   `gorm:"not null;default:true" json:"is_trial_active"`

	// Profile fields forwarded to the advisory collaborator as context.
	Name         string `gorm:"size:128" json:"name"`
	DateOfBirth  string `gorm:"size:32" json:"date_of_birth"`
	TimeOfBirth  string `gorm:"size:32" json:"time_of_birth"`
	PlaceOfBirth string `gorm:"size:128" json:"place_of_birth"`
	ZodiacSign   string `gorm:"size:32" json:"zodiac_sign"`
}

// TableName specifies the table name
func (UserLedger) TableName() string {
	return "user_ledgers"
}

// Transaction kinds.
const (
	KindCredit = "credit"
	KindDebit  = "debit"
)

// Transaction is one immutable entry of the audit trail. Rows are appended
// by the recorder and never updated or deleted.
type Transaction struct {
	ID          string    `gorm:"primarykey;size:64" json:"id"`
	CreatedAt   time.Time `gorm:"index:idx_tx_created_at" json:"created_at"`
	UserID      string    `gorm:"index:idx_tx_user_id;size:64;not null" json:"user_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Kind        string    `gorm:"size:16;not null" json:"kind"`
	Description string    `gorm:"size:255" json:"description"`
	EventID     string    `gorm:"index:idx_tx_event_id;size:255" json:"event_id,omitempty"`
}

// TableName specifies the table name
func (Transaction) TableName() string {
	return "transactions"
}
