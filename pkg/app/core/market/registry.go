package market

import (
	"sort"
	"sync"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

// ErrUnknownInstrument is returned for lookups of unregistered instruments
var ErrUnknownInstrument = errs.New(errs.Validation, "market.registry", "unknown instrument")

// Registry manages all tradable instruments in a thread-safe manner
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // id -> instrument
}

// NewRegistry creates an empty instrument registry
func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register creates and adds a new instrument.
// Returns error if an instrument with the same id already exists
func (r *Registry) Register(id string, totalShares, lockedShares int64) (*Instrument, error) {
	inst, err := NewInstrument(id, totalShares, lockedShares)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[id]; exists {
		return nil, errs.New(errs.Validation, "market.register", "instrument %s already registered", id)
	}
	r.instruments[id] = inst
	return inst, nil
}

// Get retrieves an instrument by id
func (r *Registry) Get(id string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instruments[id]
	if !exists {
		return nil, ErrUnknownInstrument
	}
	return inst, nil
}

// List returns all registered instruments sorted by id
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// UpdateStatus changes the trading status of an instrument.
// Active <-> Halted are allowed; Delisted is terminal.
func (r *Registry) UpdateStatus(id string, status Status) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	return inst.setStatus(status)
}

// Remove deletes a Delisted instrument from the registry
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, exists := r.instruments[id]
	if !exists {
		return ErrUnknownInstrument
	}
	if inst.Status() != Delisted {
		return errs.New(errs.InvalidTransition, "market.remove",
			"cannot remove instrument %s with status %s (must be Delisted)", id, inst.Status())
	}
	delete(r.instruments, id)
	return nil
}

// Count returns the total number of registered instruments
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}
