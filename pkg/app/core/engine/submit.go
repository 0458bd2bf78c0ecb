package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/events"
)

// SubmitRequest is a new order as received from a collaborator.
// LimitPrice must be zero for Market orders.
type SubmitRequest struct {
	InstrumentID string
	OwnerID      string
	Side         order.Side
	Kind         order.Kind
	LimitPrice   int64
	Quantity     int64
}

// Result is the post-match state of a submitted order
type Result struct {
	Order  *order.Order
	Trades []order.Trade
}

// Submit admits and matches an order against the instrument's book.
//
// On rejection (validation, insufficient resources, instrument not active)
// the returned Result carries the Rejected order together with the error and
// nothing has changed. An InvariantViolation halts the instrument; trades
// settled before the violation are returned and stay committed.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	now := e.clock.Now()
	o := &order.Order{
		ID:           uuid.NewString(),
		InstrumentID: req.InstrumentID,
		OwnerID:      req.OwnerID,
		Side:         req.Side,
		Kind:         req.Kind,
		LimitPrice:   req.LimitPrice,
		Quantity:     req.Quantity,
		Status:       order.PendingAdmission,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	e.metrics.OrderSubmitted(o.InstrumentID, o.Side.String(), o.Kind.String())

	if err := order.Validate(o); err != nil {
		return e.reject(o, err)
	}
	b, err := e.bookFor(o.InstrumentID)
	if err != nil {
		return e.reject(o, err)
	}

	if err := b.lock(ctx); err != nil {
		return e.reject(o, err)
	}
	defer b.unlock()

	start := time.Now()
	defer func() { e.metrics.ObserveMatch(o.InstrumentID, time.Since(start)) }()

	if err := b.inst.Tradable(); err != nil {
		return e.reject(o, err)
	}
	o.Sequence = e.seq.Next()
	if err := e.admit(b, o); err != nil {
		if errs.IsFatal(err) {
			err = e.halt(b, err)
		}
		return e.reject(o, err)
	}
	e.track(o, b)

	trades, makers, err := e.match(b, o)
	if err == nil {
		err = e.finish(b, o)
	}
	e.retire(b, append(makers, o)...)
	e.announce(b, trades)
	e.metrics.SetResting(o.InstrumentID, b.ob.Len())

	e.log.Debug("order_submitted",
		zap.String("order", o.ID),
		zap.String("instrument", o.InstrumentID),
		zap.String("owner", o.OwnerID),
		zap.Stringer("side", o.Side),
		zap.Stringer("kind", o.Kind),
		zap.Int64("price", o.LimitPrice),
		zap.Int64("qty", o.Quantity),
		zap.Int64("filled", o.Filled),
		zap.Stringer("status", o.Status),
		zap.Int("trades", len(trades)),
	)
	return &Result{Order: o.Clone(), Trades: trades}, err
}

func (e *Engine) reject(o *order.Order, err error) (*Result, error) {
	_ = o.Reject(e.clock.Now())
	e.metrics.OrderRejected(o.InstrumentID, rejectReason(err))
	e.log.Debug("order_rejected",
		zap.String("instrument", o.InstrumentID),
		zap.String("owner", o.OwnerID),
		zap.Error(err),
	)
	return &Result{Order: o.Clone()}, err
}

func rejectReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return errs.KindOf(err).String()
}

// admit takes the admission-time reservation (shares for a Sell, limit
// notional for a Limit buy, the current sweep cost plus headroom for a
// Market buy) and opens the order. The ledger persists the Open order with
// its reservation; o changes only on success.
func (e *Engine) admit(b *book, o *order.Order) error {
	next := o.Clone()
	if err := next.Admit(e.clock.Now()); err != nil {
		return errs.Wrap(errs.InvariantViolation, "engine.admit", err)
	}
	switch {
	case o.Side == order.Sell:
		next.Reserved = o.Quantity
	case o.Kind == order.Limit:
		next.Reserved = o.LimitPrice * o.Quantity
	default:
		cost, _ := b.ob.SweepCost(order.Sell, o.Quantity)
		next.Reserved = cost + cost*e.cfg.MarketBuyBufferBps/10_000
	}
	if err := e.ledger.Reserve(next); err != nil {
		return err
	}
	*o = *next
	return nil
}

// match crosses the taker against the opposite side until it is filled or
// no longer crosses. Returns the trades and the makers they touched.
func (e *Engine) match(b *book, taker *order.Order) ([]order.Trade, []*order.Order, error) {
	var (
		trades []order.Trade
		makers []*order.Order
	)
	for taker.Remaining() > 0 {
		maker := b.ob.PeekBest(taker.Side.Opposite())
		if maker == nil || !taker.Crosses(maker.LimitPrice) {
			break
		}
		qty := min(taker.Remaining(), maker.Remaining())
		t := e.newTrade(taker, maker, qty)

		buy, sell := taker, maker
		if taker.Side == order.Sell {
			buy, sell = maker, taker
		}
		if buy.Reserved < t.Notional() || sell.Reserved < qty {
			return trades, makers, e.halt(b, errs.New(errs.InvariantViolation, "engine.match",
				"reservation short for trade %s: buy %s has %d of %d, sell %s has %d of %d",
				t.ID, buy.ID, buy.Reserved, t.Notional(), sell.ID, sell.Reserved, qty))
		}

		// fills are applied to copies and settled together with the balances
		nb, ns := buy.Clone(), sell.Clone()
		if err := nb.Fill(qty, t.ExecutedAt); err != nil {
			return trades, makers, e.halt(b, err)
		}
		if err := ns.Fill(qty, t.ExecutedAt); err != nil {
			return trades, makers, e.halt(b, err)
		}
		nb.Reserved -= t.Notional()
		ns.Reserved -= qty
		if err := e.ledger.SettleTrade(&t, nb, ns); err != nil {
			return trades, makers, e.halt(b, err)
		}
		*buy, *sell = *nb, *ns

		trades = append(trades, t)
		makers = append(makers, maker)
		b.recordTrade(t, e.cfg.TradeHistory)
		e.metrics.TradeExecuted(t.InstrumentID, t.Quantity, t.Notional())

		if maker.Remaining() == 0 {
			b.ob.Remove(maker.ID)
		}
	}
	return trades, makers, nil
}

func (e *Engine) newTrade(taker, maker *order.Order, qty int64) order.Trade {
	t := order.Trade{
		ID:           uuid.NewString(),
		InstrumentID: taker.InstrumentID,
		TakerSide:    taker.Side,
		Price:        maker.LimitPrice,
		Quantity:     qty,
		ExecutedAt:   e.clock.Now(),
		Sequence:     e.seq.Next(),
	}
	if taker.Side == order.Buy {
		t.BuyOrderID, t.BuyerID = taker.ID, taker.OwnerID
		t.SellOrderID, t.SellerID = maker.ID, maker.OwnerID
	} else {
		t.BuyOrderID, t.BuyerID = maker.ID, maker.OwnerID
		t.SellOrderID, t.SellerID = taker.ID, taker.OwnerID
	}
	return t
}

// finish rests a Limit remainder and cancels a Market remainder, returning
// its reservation. A filled order already gave back its residue at
// settlement.
func (e *Engine) finish(b *book, o *order.Order) error {
	switch {
	case o.Remaining() == 0:
		return nil
	case o.Kind == order.Limit:
		if err := b.ob.Insert(o); err != nil {
			return e.halt(b, err)
		}
		return nil
	}
	if err := e.cancel(o); err != nil {
		return e.halt(b, err)
	}
	e.metrics.OrderCancelled(o.InstrumentID)
	return nil
}

// cancel moves a copy of o to Cancelled, releases what it still reserves and
// persists it, then swaps it into o. A refused transition (InvalidTransition)
// leaves o untouched.
func (e *Engine) cancel(o *order.Order) error {
	next := o.Clone()
	if err := next.Cancel(e.clock.Now()); err != nil {
		return err
	}
	if err := e.ledger.Release(next); err != nil {
		return err
	}
	*o = *next
	return nil
}

// announce publishes one TradeExecuted per trade, then a single PriceUpdated
// if the last trade moved the price
func (e *Engine) announce(b *book, trades []order.Trade) {
	if len(trades) == 0 {
		return
	}
	for i := range trades {
		e.publish(events.NewTradeExecuted(&trades[i]))
	}
	last := trades[len(trades)-1]
	if b.inst.SetLastTradePrice(last.Price) {
		e.publish(events.PriceUpdated{
			InstrumentID: last.InstrumentID,
			Price:        last.Price,
			UpdatedAt:    last.ExecutedAt,
		})
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}
