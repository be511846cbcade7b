package sync

import (
	"context"
	"time"

	"consultation-service/internal/cache"
	"consultation-service/internal/ledger"
	"github.com/sirupsen/logrus"
)

const syncTimeout = 30 * time.Second

// SyncBalances periodically refreshes the balance cache from the ledger
// store in batches.
func SyncBalances(
	ctx context.Context,
	store ledger.Store,
	balances *cache.Balances,
	batchSize int,
	interval time.Duration,
	log *logrus.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial sync
	runSync(ctx, store, balances, batchSize, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping balance cache synchronizer")
			return
		case <-ticker.C:
			runSync(ctx, store, balances, batchSize, log)
		}
	}
}

func runSync(
	ctx context.Context,
	store ledger.Store,
	balances *cache.Balances,
	batchSize int,
	log *logrus.Logger,
) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	total, err := store.Count(ctx)
	if err != nil {
		log.WithError(err).Error("failed to count ledgers for cache sync")
		return
	}

	if total == 0 {
		log.Debug("no ledgers to sync")
		return
	}

	var synced int64
	offset := 0

	for {
		ledgers, err := store.List(ctx, batchSize, offset)
		if err != nil {
			log.WithError(err).Error("failed to fetch ledger batch")
			break
		}

		if len(ledgers) == 0 {
			break
		}

		for _, l := range ledgers {
			balances.Put(l.UserID, l.WalletBalance)
			synced++
		}

		offset += len(ledgers)

		if len(ledgers) < batchSize {
			break
		}

		select {
		case <-ctx.Done():
			log.Info("balance cache sync cancelled")
			return
		default:
		}
	}

	log.WithFields(logrus.Fields{
		"synced": synced,
		"total":  total,
	}).Debug("balance cache synchronization completed")
}
