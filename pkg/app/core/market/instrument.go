package market

import (
	"fmt"
	"strings"
	"sync"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

// Status defines the trading status of an instrument
type Status int8

const (
	Active   Status = iota // Trading enabled
	Halted                 // Matching stopped (operator halt or invariant violation)
	Delisted               // Instrument retired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Halted:
		return "Halted"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Instrument is one company's tradable stock.
//
// TotalShares is fixed at registration. LockedShares are held off-market
// (founder lock-up) and OutstandingTradable = TotalShares - LockedShares.
// LastTradePrice is written only from the instrument's matching path.
type Instrument struct {
	mu sync.RWMutex

	id             string
	totalShares    int64
	lockedShares   int64
	lastTradePrice int64
	status         Status
	haltReason     string
}

// Info is a point-in-time copy of an instrument's state.
type Info struct {
	ID                  string
	TotalShares         int64
	LockedShares        int64
	OutstandingTradable int64
	LastTradePrice      int64
	Status              Status
	HaltReason          string
}

// NewInstrument creates an Active instrument with validation
func NewInstrument(id string, totalShares, lockedShares int64) (*Instrument, error) {
	if id == "" {
		return nil, errs.New(errs.Validation, "market.new_instrument", "instrument id cannot be empty")
	}
	// ':' separates storage key segments
	if strings.ContainsAny(id, ": \t\n") {
		return nil, errs.New(errs.Validation, "market.new_instrument", "instrument id %q contains a reserved character", id)
	}
	if totalShares <= 0 {
		return nil, errs.New(errs.Validation, "market.new_instrument", "total shares must be positive: %d", totalShares)
	}
	if lockedShares < 0 || lockedShares > totalShares {
		return nil, errs.New(errs.Validation, "market.new_instrument",
			"locked shares %d outside [0, %d]", lockedShares, totalShares)
	}
	return &Instrument{
		id:           id,
		totalShares:  totalShares,
		lockedShares: lockedShares,
		status:       Active,
	}, nil
}

func (i *Instrument) ID() string { return i.id }

func (i *Instrument) TotalShares() int64 { return i.totalShares }

// OutstandingTradable returns the shares not held off-market
func (i *Instrument) OutstandingTradable() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.totalShares - i.lockedShares
}

// LastTradePrice returns the price of the most recent trade, 0 before any trade
func (i *Instrument) LastTradePrice() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastTradePrice
}

// SetLastTradePrice records a new trade price and reports whether it changed
func (i *Instrument) SetLastTradePrice(price int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastTradePrice == price {
		return false
	}
	i.lastTradePrice = price
	return true
}

func (i *Instrument) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Tradable returns nil when orders may be admitted
func (i *Instrument) Tradable() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.status != Active {
		return errs.New(errs.Validation, "market.tradable", "instrument %s is not active (status: %s)", i.id, i.status)
	}
	return nil
}

// Lock moves n tradable shares into lock-up
func (i *Instrument) Lock(n int64) error {
	if n <= 0 {
		return errs.New(errs.Validation, "market.lock", "lock amount must be positive: %d", n)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lockedShares+n > i.totalShares {
		return errs.New(errs.InsufficientResource, "market.lock",
			"cannot lock %d: only %d tradable", n, i.totalShares-i.lockedShares)
	}
	i.lockedShares += n
	return nil
}

// Unlock releases n shares from lock-up into the tradable float
func (i *Instrument) Unlock(n int64) error {
	if n <= 0 {
		return errs.New(errs.Validation, "market.unlock", "unlock amount must be positive: %d", n)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if n > i.lockedShares {
		return errs.New(errs.InsufficientResource, "market.unlock",
			"cannot unlock %d: only %d locked", n, i.lockedShares)
	}
	i.lockedShares -= n
	return nil
}

// Halt stops matching on the instrument. A halted instrument keeps its book
// for diagnosis.
func (i *Instrument) Halt(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == Delisted {
		return
	}
	i.status = Halted
	i.haltReason = reason
}

func (i *Instrument) setStatus(s Status) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == Delisted {
		return errs.New(errs.InvalidTransition, "market.set_status",
			"cannot change status of %s from Delisted (terminal state)", i.id)
	}
	i.status = s
	if s == Active {
		i.haltReason = ""
	}
	return nil
}

// Snapshot returns a consistent copy of the instrument state
func (i *Instrument) Snapshot() Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Info{
		ID:                  i.id,
		TotalShares:         i.totalShares,
		LockedShares:        i.lockedShares,
		OutstandingTradable: i.totalShares - i.lockedShares,
		LastTradePrice:      i.lastTradePrice,
		Status:              i.status,
		HaltReason:          i.haltReason,
	}
}

func (i *Instrument) String() string {
	info := i.Snapshot()
	return fmt.Sprintf("%s[total=%d tradable=%d last=%d %s]",
		info.ID, info.TotalShares, info.OutstandingTradable, info.LastTradePrice, info.Status)
}
