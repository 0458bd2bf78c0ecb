// Package ledger holds authoritative cash balances and share positions.
//
// All mutations go through the Ledger's mutex; reservations taken at order
// admission guarantee that SettleTrade can always apply both legs. A
// settlement that finds a reservation short is an InvariantViolation: a bug
// upstream, never a user error.
//
// Reservation changes are made against order snapshots and committed in the
// same store batch as the order state, so a restart never sees an order
// whose reservation disagrees with the balances.
package ledger

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// Store persists ledger state. Implementations must apply CommitBatch
// atomically: a trade (nil outside settlement), the balances it touched and
// the orders whose reservations those balances back.
type Store interface {
	SaveAccount(acc CashAccount) error
	SavePosition(pos Position) error
	CommitBatch(trade *order.Trade, accounts []CashAccount, positions []Position, orders []*order.Order) error
}

// Ledger manages all cash accounts and positions in a thread-safe manner.
// In-memory maps are authoritative; an optional Store receives every change
// before it becomes visible.
type Ledger struct {
	mu        sync.RWMutex
	accounts  map[string]*CashAccount
	positions map[positionKey]*Position
	store     Store
	log       *zap.Logger
}

// New creates a ledger. store may be nil for a memory-only ledger.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		accounts:  make(map[string]*CashAccount),
		positions: make(map[positionKey]*Position),
		store:     store,
		log:       log.Named("ledger"),
	}
}

// Load replaces in-memory state with previously persisted accounts and positions.
func (l *Ledger) Load(accounts []CashAccount, positions []Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*CashAccount, len(accounts))
	for _, acc := range accounts {
		if err := acc.Validate(); err != nil {
			return errs.Wrap(errs.InvariantViolation, "ledger.load", err)
		}
		acc := acc
		l.accounts[acc.OwnerID] = &acc
	}
	l.positions = make(map[positionKey]*Position, len(positions))
	for _, pos := range positions {
		if err := pos.Validate(); err != nil {
			return errs.Wrap(errs.InvariantViolation, "ledger.load", err)
		}
		pos := pos
		l.positions[keyOf(pos.OwnerID, pos.InstrumentID)] = &pos
	}
	l.log.Info("ledger_loaded", zap.Int("accounts", len(accounts)), zap.Int("positions", len(positions)))
	return nil
}

// Deposit adds cash to an owner's available balance.
// Creates the account if it doesn't exist
func (l *Ledger) Deposit(owner string, amount int64) error {
	if owner == "" {
		return errs.New(errs.Validation, "ledger.deposit", "owner id is required")
	}
	if amount <= 0 {
		return errs.New(errs.Validation, "ledger.deposit", "deposit amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.accountLocked(owner)
	next.Available += amount
	return l.commitAccount("ledger.deposit", next)
}

// Withdraw removes cash from an owner's available balance
func (l *Ledger) Withdraw(owner string, amount int64) error {
	if amount <= 0 {
		return errs.New(errs.Validation, "ledger.withdraw", "withdraw amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.accountLocked(owner)
	if next.Available < amount {
		return errs.New(errs.InsufficientResource, "ledger.withdraw",
			"insufficient balance: have %d, need %d (reserved: %d)", next.Available, amount, next.Reserved)
	}
	next.Available -= amount
	return l.commitAccount("ledger.withdraw", next)
}

// Issue credits newly issued shares to an owner at the given cost per share
// (IPO allocation, founder grant).
func (l *Ledger) Issue(owner, instrument string, qty, cost int64) error {
	if owner == "" || instrument == "" {
		return errs.New(errs.Validation, "ledger.issue", "owner and instrument are required")
	}
	if qty <= 0 {
		return errs.New(errs.Validation, "ledger.issue", "issue quantity must be positive: %d", qty)
	}
	if cost < 0 {
		return errs.New(errs.Validation, "ledger.issue", "issue cost cannot be negative: %d", cost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.positionLocked(owner, instrument)
	next.buy(qty, cost)
	return l.commitPosition("ledger.issue", next)
}

// Account returns a copy of an owner's cash account (zero value if unknown)
func (l *Ledger) Account(owner string) CashAccount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[owner]; ok {
		return *acc
	}
	return CashAccount{OwnerID: owner}
}

// Position returns a copy of an owner's position (zero value if none)
func (l *Ledger) Position(owner, instrument string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[keyOf(owner, instrument)]; ok {
		return *pos
	}
	return Position{OwnerID: owner, InstrumentID: instrument, AverageCost: decimal.Zero}
}

// Positions returns all non-empty positions of an owner sorted by instrument
func (l *Ledger) Positions(owner string) []Position {
	l.mu.RLock()
	out := make([]Position, 0)
	for k, pos := range l.positions {
		if k.owner == owner && pos.Quantity > 0 {
			out = append(out, *pos)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

// TotalCash returns the sum of every account's available and reserved cash
func (l *Ledger) TotalCash() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, acc := range l.accounts {
		total += acc.Total()
	}
	return total
}

// TotalShares returns the number of shares of an instrument held across all owners
func (l *Ledger) TotalShares(instrument string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for k, pos := range l.positions {
		if k.instrument == instrument {
			total += pos.Quantity
		}
	}
	return total
}

// accountLocked returns a mutable copy of the owner's account (lock must be held)
func (l *Ledger) accountLocked(owner string) CashAccount {
	if acc, ok := l.accounts[owner]; ok {
		return *acc
	}
	return CashAccount{OwnerID: owner}
}

// positionLocked returns a mutable copy of the position (lock must be held)
func (l *Ledger) positionLocked(owner, instrument string) Position {
	if pos, ok := l.positions[keyOf(owner, instrument)]; ok {
		return *pos
	}
	return Position{OwnerID: owner, InstrumentID: instrument, AverageCost: decimal.Zero}
}

func (l *Ledger) commitAccount(op string, next CashAccount) error {
	if err := next.Validate(); err != nil {
		return l.violation(op, "%v", err)
	}
	if l.store != nil {
		if err := l.store.SaveAccount(next); err != nil {
			return errs.Wrap(errs.InvariantViolation, op, err)
		}
	}
	l.accounts[next.OwnerID] = &next
	return nil
}

func (l *Ledger) commitPosition(op string, next Position) error {
	if err := next.Validate(); err != nil {
		return l.violation(op, "%v", err)
	}
	if l.store != nil {
		if err := l.store.SavePosition(next); err != nil {
			return errs.Wrap(errs.InvariantViolation, op, err)
		}
	}
	l.positions[keyOf(next.OwnerID, next.InstrumentID)] = &next
	return nil
}

func (l *Ledger) violation(op, format string, args ...any) error {
	err := errs.New(errs.InvariantViolation, op, format, args...)
	l.log.Error("ledger_invariant_violation", zap.String("op", op), zap.Error(err))
	return err
}
