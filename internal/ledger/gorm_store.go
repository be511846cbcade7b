package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"consultation-service/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const lockStripes = 64

// GormStore implements Store on a relational database. Mutations for one
// user serialize through a striped in-process mutex on top of the database
// transaction, so read-modify-write sequences are indivisible per user key.
type GormStore struct {
	db    *gorm.DB
	log   *logrus.Logger
	locks [lockStripes]sync.Mutex
}

func NewGormStore(db *gorm.DB, log *logrus.Logger) *GormStore {
	return &GormStore{
		db:  db,
		log: log,
	}
}

func (s *GormStore) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *GormStore) Get(ctx context.Context, userID string) (*model.UserLedger, error) {
	var l model.UserLedger
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *GormStore) Create(ctx context.Context, l *model.UserLedger) (*model.UserLedger, error) {
	if l.UserID == "" {
		return nil, errors.New("user id required")
	}
	l.WalletBalance = 0
	l.FreeMinutesUsed = 0
	l.IsTrialActive = true

	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	s.log.WithField("user_id", l.UserID).Info("ledger created")
	return l, nil
}

func (s *GormStore) ConsumeFreeMinutes(ctx context.Context, userID string, minutes int) (*model.UserLedger, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("invalid minutes %d", minutes)
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	var out *model.UserLedger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l model.UserLedger
		if err := tx.Where("user_id = ?", userID).First(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return err
		}

		used := l.FreeMinutesUsed + minutes
		if used > model.FreeTrialCap {
			used = model.FreeTrialCap
		}
		// One-way flip: once inactive, stays inactive.
		active := l.IsTrialActive && used < model.FreeTrialCap

		if err := tx.Model(&model.UserLedger{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"free_minutes_used": used,
				"is_trial_active":   active,
			}).Error; err != nil {
			return err
		}

		l.FreeMinutesUsed = used
		l.IsTrialActive = active
		out = &l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":      userID,
		"minutes_used": out.FreeMinutesUsed,
		"trial_active": out.IsTrialActive,
	}).Debug("free minutes consumed")

	return out, nil
}

func (s *GormStore) Debit(ctx context.Context, userID string, amount int64) (*model.UserLedger, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid debit amount %d", amount)
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	// Single conditional UPDATE: the balance guard and the decrement are one
	// statement, so the wallet can never be observed below zero.
	res := s.db.WithContext(ctx).Model(&model.UserLedger{}).
		Where("user_id = ? AND wallet_balance >= ?", userID, amount).
		Update("wallet_balance", gorm.Expr("wallet_balance - ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Distinguish a missing ledger from an uncovered amount.
		if _, err := s.Get(ctx, userID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("user %s: debit %d: %w", userID, amount, ErrInsufficientFunds)
	}

	return s.Get(ctx, userID)
}

func (s *GormStore) Credit(ctx context.Context, userID string, amount int64) (*model.UserLedger, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid credit amount %d", amount)
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	res := s.db.WithContext(ctx).Model(&model.UserLedger{}).
		Where("user_id = ?", userID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	return s.Get(ctx, userID)
}

func (s *GormStore) List(ctx context.Context, limit, offset int) ([]model.UserLedger, error) {
	var ledgers []model.UserLedger
	err := s.db.WithContext(ctx).
		Select("user_id", "wallet_balance", "free_minutes_used", "is_trial_active").
		Limit(limit).
		Offset(offset).
		Find(&ledgers).Error

	return ledgers, err
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserLedger{}).Count(&count).Error
	return count, err
}
