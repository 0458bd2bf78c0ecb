package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

// Issue credits qty newly issued shares of instrument to owner at cost per
// share. Shares held across all owners never exceed the instrument's
// outstanding tradable supply; issuance beyond it fails with
// InsufficientResource. Runs on the instrument's matching path so it cannot
// race a lock-up change.
func (e *Engine) Issue(ctx context.Context, owner, instrument string, qty, cost int64) error {
	if qty <= 0 {
		return errs.New(errs.Validation, "engine.issue", "issue quantity must be positive: %d", qty)
	}
	b, err := e.bookFor(instrument)
	if err != nil {
		return err
	}
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()

	issued := e.ledger.TotalShares(instrument)
	outstanding := b.inst.OutstandingTradable()
	if qty > outstanding-issued {
		return errs.New(errs.InsufficientResource, "engine.issue",
			"cannot issue %d %s: %d of %d outstanding already issued", qty, instrument, issued, outstanding)
	}
	if err := e.ledger.Issue(owner, instrument, qty, cost); err != nil {
		return err
	}
	e.log.Info("shares_issued",
		zap.String("instrument", instrument),
		zap.String("owner", owner),
		zap.Int64("qty", qty),
		zap.Int64("issued", issued+qty),
		zap.Int64("outstanding", outstanding),
	)
	return nil
}

// Lock moves n shares of instrument into lock-up. Shares already in owners'
// hands cannot be locked.
func (e *Engine) Lock(ctx context.Context, instrument string, n int64) error {
	b, err := e.bookFor(instrument)
	if err != nil {
		return err
	}
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()

	issued := e.ledger.TotalShares(instrument)
	if free := b.inst.OutstandingTradable() - issued; n > free {
		return errs.New(errs.InsufficientResource, "engine.lock",
			"cannot lock %d %s: %d shares issued, %d unissued", n, instrument, issued, max(free, 0))
	}
	if err := b.inst.Lock(n); err != nil {
		return err
	}
	e.log.Info("shares_locked", zap.String("instrument", instrument), zap.Int64("qty", n))
	return nil
}

// Unlock releases n shares of instrument from lock-up into the tradable float
func (e *Engine) Unlock(ctx context.Context, instrument string, n int64) error {
	b, err := e.bookFor(instrument)
	if err != nil {
		return err
	}
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()

	if err := b.inst.Unlock(n); err != nil {
		return err
	}
	e.log.Info("shares_unlocked", zap.String("instrument", instrument), zap.Int64("qty", n))
	return nil
}
