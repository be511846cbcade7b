package cache

import (
	"sync"
)

// Balances is a read-through display cache of wallet balances. The store
// stays authoritative; the cache is refreshed in-line after mutations and
// reconciled periodically by the synchronizer.
type Balances struct {
	m sync.Map
}

func NewBalances() *Balances {
	return &Balances{}
}

func (b *Balances) Put(userID string, balance int64) {
	b.m.Store(userID, balance)
}

func (b *Balances) Get(userID string) (int64, bool) {
	v, ok := b.m.Load(userID)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}
