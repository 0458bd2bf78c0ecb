// Package storage persists ledger state, order state and trades in Pebble.
package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/stockex/pkg/app/core/ledger"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// PebbleStore implements ledger.Store and engine.Journal.
// Callers serialize writes (ledger mutex, per-instrument matching path).
type PebbleStore struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path
func Open(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveAccount persists a cash account
func (s *PebbleStore) SaveAccount(acc ledger.CashAccount) error {
	data, err := encode(acc)
	if err != nil {
		return err
	}
	if err := s.db.Set(accountKey(acc.OwnerID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// SavePosition persists a share position
func (s *PebbleStore) SavePosition(pos ledger.Position) error {
	data, err := encode(pos)
	if err != nil {
		return err
	}
	if err := s.db.Set(positionKey(pos.OwnerID, pos.InstrumentID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// CommitBatch writes a trade (if any), every account and position it touched
// and the orders those balances back in one atomic batch. Live orders are
// kept under ord:, terminal ones move to ordh: so recovery scans only what
// can still rest.
func (s *PebbleStore) CommitBatch(t *order.Trade, accounts []ledger.CashAccount, positions []ledger.Position, orders []*order.Order) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if t != nil {
		data, err := encode(t)
		if err != nil {
			return err
		}
		if err := batch.Set(tradeKey(t.InstrumentID, t.Sequence, t.ID), data, nil); err != nil {
			return err
		}
	}
	for _, acc := range accounts {
		data, err := encode(acc)
		if err != nil {
			return err
		}
		if err := batch.Set(accountKey(acc.OwnerID), data, nil); err != nil {
			return err
		}
	}
	for _, pos := range positions {
		data, err := encode(pos)
		if err != nil {
			return err
		}
		if err := batch.Set(positionKey(pos.OwnerID, pos.InstrumentID), data, nil); err != nil {
			return err
		}
	}
	for _, o := range orders {
		if err := putOrder(batch, o); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func putOrder(batch *pebble.Batch, o *order.Order) error {
	data, err := encode(o)
	if err != nil {
		return err
	}
	if !o.IsTerminal() {
		return batch.Set(orderKey(o.ID), data, nil)
	}
	if err := batch.Delete(orderKey(o.ID), nil); err != nil {
		return err
	}
	return batch.Set(orderHistoryKey(o.ID), data, nil)
}

// LoadOrder returns a live or archived order, nil if it was never persisted
func (s *PebbleStore) LoadOrder(orderID string) (*order.Order, error) {
	for _, key := range [][]byte{orderKey(orderID), orderHistoryKey(orderID)} {
		var o order.Order
		found, err := s.get(key, &o)
		if err != nil {
			return nil, err
		}
		if found {
			return &o, nil
		}
	}
	return nil, nil
}

// LoadAccounts returns every persisted cash account
func (s *PebbleStore) LoadAccounts() ([]ledger.CashAccount, error) {
	var out []ledger.CashAccount
	err := s.scan([]byte(prefixAccount), false, func(v []byte) (bool, error) {
		var acc ledger.CashAccount
		if err := decode(v, &acc); err != nil {
			return false, err
		}
		out = append(out, acc)
		return true, nil
	})
	return out, err
}

// LoadPositions returns every persisted position
func (s *PebbleStore) LoadPositions() ([]ledger.Position, error) {
	var out []ledger.Position
	err := s.scan([]byte(prefixPosition), false, func(v []byte) (bool, error) {
		var pos ledger.Position
		if err := decode(v, &pos); err != nil {
			return false, err
		}
		out = append(out, pos)
		return true, nil
	})
	return out, err
}

// LoadOpenOrders returns every Open or PartiallyFilled order
func (s *PebbleStore) LoadOpenOrders() ([]*order.Order, error) {
	var out []*order.Order
	err := s.scan([]byte(prefixOrder), false, func(v []byte) (bool, error) {
		var o order.Order
		if err := decode(v, &o); err != nil {
			return false, err
		}
		out = append(out, &o)
		return true, nil
	})
	return out, err
}

// LoadRecentTrades loads the most recent N trades for an instrument
// Trades are returned in reverse chronological order (newest first)
func (s *PebbleStore) LoadRecentTrades(instrument string, limit int) ([]order.Trade, error) {
	var out []order.Trade
	err := s.scan(tradePrefix(instrument), true, func(v []byte) (bool, error) {
		var t order.Trade
		if err := decode(v, &t); err != nil {
			return false, err
		}
		out = append(out, t)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

func (s *PebbleStore) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return true, decode(data, v)
}

// scan visits values under prefix in key order (reverse when newestFirst)
// until fn returns false
func (s *PebbleStore) scan(prefix []byte, newestFirst bool, fn func(v []byte) (bool, error)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator on %s: %w", prefix, err)
	}

	valid, step := iter.First, iter.Next
	if newestFirst {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		cont, err := fn(iter.Value())
		if err != nil {
			iter.Close()
			return fmt.Errorf("key %s: %w", iter.Key(), err)
		}
		if !cont {
			break
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}
