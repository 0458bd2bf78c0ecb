package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// Cancel removes the unfilled remainder of an Open or PartiallyFilled order
// and releases its reservation. Only the owner may cancel. A cancel queued
// behind a match that fully consumed the order fails with InvalidTransition.
func (e *Engine) Cancel(ctx context.Context, orderID, requester string) (*order.Order, error) {
	b, err := e.locate(orderID)
	if err != nil {
		return nil, e.cancelArchived(orderID, requester, err)
	}
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.unlock()

	o, ok := b.get(orderID)
	if !ok {
		return nil, e.cancelArchived(orderID, requester, ErrUnknownOrder)
	}
	if o.OwnerID != requester {
		return nil, errs.New(errs.InvalidTransition, "engine.cancel", "order %s is not owned by %s", orderID, requester)
	}
	if err := b.inst.Tradable(); err != nil {
		return nil, err
	}
	if !o.Status.Cancellable() {
		return nil, errs.New(errs.InvalidTransition, "engine.cancel", "order %s is %s", o.ID, o.Status)
	}
	if _, ok := b.ob.Get(o.ID); !ok {
		return nil, e.halt(b, errs.New(errs.InvariantViolation, "engine.cancel", "cancellable order %s missing from book", o.ID))
	}
	if err := e.cancel(o); err != nil {
		return nil, e.halt(b, err)
	}
	b.ob.Remove(o.ID)
	e.retire(b, o)
	e.metrics.OrderCancelled(o.InstrumentID)
	e.metrics.SetResting(o.InstrumentID, b.ob.Len())

	e.log.Debug("order_cancelled",
		zap.String("order", o.ID),
		zap.String("instrument", o.InstrumentID),
		zap.Int64("filled", o.Filled),
		zap.Int64("remaining", o.Remaining()),
	)
	return o.Clone(), nil
}

// cancelArchived answers a cancel for an order no longer held in memory:
// a journaled order is terminal and refuses, anything else is unknown
func (e *Engine) cancelArchived(orderID, requester string, notFound error) error {
	o, err := e.archived(orderID)
	if err != nil {
		if errors.Is(err, ErrUnknownOrder) {
			return notFound
		}
		return err
	}
	if o.OwnerID != requester {
		return errs.New(errs.InvalidTransition, "engine.cancel", "order %s is not owned by %s", orderID, requester)
	}
	return errs.New(errs.InvalidTransition, "engine.cancel", "order %s is %s", orderID, o.Status)
}
