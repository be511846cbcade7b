package recorder

import (
	"context"
	"fmt"
	"time"

	"consultation-service/internal/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recorder appends immutable transaction records. There is no update or
// delete path: the table is the audit trail that reconstructs every wallet
// balance.
type Recorder struct {
	db  *gorm.DB
	log *logrus.Logger
}

func New(db *gorm.DB, log *logrus.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log,
	}
}

// Record appends one transaction and returns it. eventID may be empty; when
// set it ties the record to an external top-up event for replay detection.
func (r *Recorder) Record(ctx context.Context, userID string, amount int64, kind, description, eventID string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid transaction amount %d", amount)
	}
	if kind != model.KindCredit && kind != model.KindDebit {
		return nil, fmt.Errorf("invalid transaction kind %q", kind)
	}

	tx := &model.Transaction{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		EventID:     eventID,
	}

	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    kind,
		"amount":  amount,
	}).Debug("transaction recorded")

	return tx, nil
}

// ListByUser returns the newest transactions for a user.
func (r *Recorder) ListByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error

	return txs, err
}

// HasEvent checks whether a transaction with the given event_id already
// exists, so a redelivered top-up message is applied at most once.
func (r *Recorder) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("event_id = ?", eventID).
		Count(&count).Error

	return count > 0, err
}
