package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/ledger"
	"github.com/uhyunpark/stockex/pkg/app/core/market"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/events"
	"github.com/uhyunpark/stockex/pkg/metrics"
	"github.com/uhyunpark/stockex/pkg/util"
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) take() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.evs
	r.evs = nil
	return out
}

// memStore stands in for Pebble: it implements ledger.Store and Journal and
// can be told to start failing after n more batches.
type memStore struct {
	mu        sync.Mutex
	limited   bool
	left      int
	accounts  map[string]ledger.CashAccount
	positions map[string]ledger.Position
	orders    map[string]*order.Order
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]ledger.CashAccount),
		positions: make(map[string]ledger.Position),
		orders:    make(map[string]*order.Order),
	}
}

func (s *memStore) failAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited, s.left = true, n
}

func (s *memStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited = false
}

func (s *memStore) SaveAccount(acc ledger.CashAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.OwnerID] = acc
	return nil
}

func (s *memStore) SavePosition(pos ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.OwnerID+"/"+pos.InstrumentID] = pos
	return nil
}

func (s *memStore) CommitBatch(_ *order.Trade, accounts []ledger.CashAccount, positions []ledger.Position, orders []*order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limited {
		if s.left == 0 {
			return errors.New("batch commit failed")
		}
		s.left--
	}
	for _, acc := range accounts {
		s.accounts[acc.OwnerID] = acc
	}
	for _, pos := range positions {
		s.positions[pos.OwnerID+"/"+pos.InstrumentID] = pos
	}
	for _, o := range orders {
		s.orders[o.ID] = o.Clone()
	}
	return nil
}

func (s *memStore) LoadOrder(id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return o.Clone(), nil
	}
	return nil, nil
}

func (s *memStore) openOrders() []*order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*order.Order, 0)
	for _, o := range s.orders {
		if !o.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// reload builds a fresh ledger from what reached the store
func (s *memStore) reload(t *testing.T) *ledger.Ledger {
	t.Helper()
	s.mu.Lock()
	accounts := make([]ledger.CashAccount, 0, len(s.accounts))
	for _, acc := range s.accounts {
		accounts = append(accounts, acc)
	}
	positions := make([]ledger.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, pos)
	}
	s.mu.Unlock()

	led := ledger.New(s, zaptest.NewLogger(t))
	require.NoError(t, led.Load(accounts, positions))
	return led
}

type fixture struct {
	t   *testing.T
	e   *Engine
	led *ledger.Ledger
	reg *market.Registry
	pub *recorder
	ctx context.Context
}

func newFixture(t *testing.T, cfg Config, store ledger.Store, opts ...Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := market.NewRegistry()
	for _, id := range []string{"ACME", "GLOBX"} {
		_, err := reg.Register(id, 1_000_000, 0)
		require.NoError(t, err)
	}
	led := ledger.New(store, log)
	pub := &recorder{}
	opts = append([]Option{
		WithPublisher(pub),
		WithLogger(log),
		WithClock(util.NewStepClock(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), time.Millisecond)),
	}, opts...)
	return &fixture{
		t:   t,
		e:   New(cfg, reg, led, opts...),
		led: led,
		reg: reg,
		pub: pub,
		ctx: context.Background(),
	}
}

func (f *fixture) fund(owner string, cash int64) {
	f.t.Helper()
	require.NoError(f.t, f.led.Deposit(owner, cash))
}

func (f *fixture) grant(owner, instrument string, qty int64) {
	f.t.Helper()
	require.NoError(f.t, f.led.Issue(owner, instrument, qty, 10))
}

func (f *fixture) limit(owner string, side order.Side, price, qty int64) *Result {
	f.t.Helper()
	res, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: owner, Side: side, Kind: order.Limit, LimitPrice: price, Quantity: qty,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) market(owner string, side order.Side, qty int64) (*Result, error) {
	return f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: owner, Side: side, Kind: order.Market, Quantity: qty,
	})
}

func (f *fixture) status(id string) order.Status {
	f.t.Helper()
	o, err := f.e.Order(id)
	require.NoError(f.t, err)
	return o.Status
}

func TestScenarioRestingSell(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.grant("S", "ACME", 100)

	res := f.limit("S", order.Sell, 50, 100)
	assert.Equal(t, order.Open, res.Order.Status)
	assert.Empty(t, res.Trades)
	assert.Equal(t, int64(100), f.led.Position("S", "ACME").Reserved)

	ask, _ := f.e.Depth("ACME", 0)
	assert.Equal(t, int64(50), ask.Asks[0].Price)
	assert.Equal(t, int64(100), ask.Asks[0].Qty)
}

func TestScenarioPartialFillAtMakerPrice(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.grant("S", "ACME", 100)
	f.fund("B", 10_000)
	sell := f.limit("S", order.Sell, 50, 100)
	sBefore := f.led.Account("S").Available

	buy := f.limit("B", order.Buy, 52, 60)

	require.Len(t, buy.Trades, 1)
	tr := buy.Trades[0]
	assert.Equal(t, int64(50), tr.Price)
	assert.Equal(t, int64(60), tr.Quantity)
	assert.Equal(t, buy.Order.ID, tr.BuyOrderID)
	assert.Equal(t, sell.Order.ID, tr.SellOrderID)

	assert.Equal(t, order.Filled, buy.Order.Status)
	s, err := f.e.Order(sell.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PartiallyFilled, s.Status)
	assert.Equal(t, int64(60), s.Filled)

	pos := f.led.Position("B", "ACME")
	assert.Equal(t, int64(60), pos.Quantity)
	assert.Equal(t, "50", pos.AverageCost.String())
	assert.Equal(t, sBefore+3000, f.led.Account("S").Available)

	// price improvement released once the buy is Filled
	b := f.led.Account("B")
	assert.Equal(t, int64(7000), b.Available)
	assert.Zero(t, b.Reserved)
	assert.Equal(t, int64(50), f.reg.List()[0].LastTradePrice())
}

func TestScenarioMarketBuyEmptyBook(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 1000)

	res, err := f.market("B", order.Buy, 50)
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, res.Order.Status)
	assert.Zero(t, res.Order.Filled)
	assert.Empty(t, res.Trades)
	assert.Equal(t, ledger.CashAccount{OwnerID: "B", Available: 1000}, f.led.Account("B"))
	assert.Empty(t, f.e.OpenOrders("B"))
}

func TestScenarioBestPriceFirst(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B1", 100_000)
	f.fund("B2", 100_000)
	f.grant("S", "ACME", 40)

	at50 := f.limit("B1", order.Buy, 50, 100)
	at48 := f.limit("B2", order.Buy, 48, 100)

	res := f.limit("S", order.Sell, 49, 40)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(50), res.Trades[0].Price)
	assert.Equal(t, at50.Order.ID, res.Trades[0].BuyOrderID)
	assert.Equal(t, order.Filled, res.Order.Status)
	assert.Equal(t, order.Open, f.status(at48.Order.ID))
}

func TestScenarioSellExceedsHolding(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.grant("S", "ACME", 10)
	f.limit("S", order.Sell, 60, 6)

	res, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "S", Side: order.Sell, Kind: order.Limit, LimitPrice: 55, Quantity: 5,
	})
	require.ErrorIs(t, err, errs.ErrInsufficientResource)
	assert.Equal(t, order.Rejected, res.Order.Status)
	assert.Zero(t, res.Order.Reserved)

	assert.Equal(t, int64(6), f.led.Position("S", "ACME").Reserved)
	d, _ := f.e.Depth("ACME", 0)
	require.Len(t, d.Asks, 1)
	assert.Equal(t, int64(60), d.Asks[0].Price)
	_, err = f.e.Order(res.Order.ID)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestScenarioTimePriority(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("A", 10_000)
	f.fund("B", 10_000)
	f.grant("S", "ACME", 100)

	a := f.limit("A", order.Buy, 50, 20)
	b := f.limit("B", order.Buy, 50, 20)

	res := f.limit("S", order.Sell, 50, 15)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, a.Order.ID, res.Trades[0].BuyOrderID)
	assert.Equal(t, order.PartiallyFilled, f.status(a.Order.ID))
	assert.Equal(t, order.Open, f.status(b.Order.ID))

	res = f.limit("S", order.Sell, 50, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, a.Order.ID, res.Trades[0].BuyOrderID)
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.Equal(t, b.Order.ID, res.Trades[1].BuyOrderID)
	assert.Equal(t, int64(5), res.Trades[1].Quantity)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 1000)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"zero quantity", SubmitRequest{InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 5}},
		{"zero price", SubmitRequest{InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, Quantity: 5}},
		{"market with price", SubmitRequest{InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Market, LimitPrice: 5, Quantity: 5}},
		{"unknown instrument", SubmitRequest{InstrumentID: "NOPE", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 5, Quantity: 5}},
		{"missing owner", SubmitRequest{InstrumentID: "ACME", Side: order.Buy, Kind: order.Limit, LimitPrice: 5, Quantity: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.e.Submit(f.ctx, tt.req)
			require.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, order.Rejected, res.Order.Status)
		})
	}
	assert.Equal(t, int64(1000), f.led.Account("B").Available)

	_, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 101, Quantity: 10,
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientResource)
	assert.Equal(t, int64(1000), f.led.Account("B").Available)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 10_000)
	f.grant("S", "ACME", 100)

	buy := f.limit("B", order.Buy, 50, 40)
	f.limit("S", order.Sell, 50, 10)

	_, err := f.e.Cancel(f.ctx, buy.Order.ID, "S")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = f.e.Cancel(f.ctx, "no-such-order", "B")
	assert.ErrorIs(t, err, ErrUnknownOrder)

	cancelled, err := f.e.Cancel(f.ctx, buy.Order.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, cancelled.Status)
	assert.Equal(t, int64(10), cancelled.Filled)
	assert.Zero(t, cancelled.Reserved)

	acc := f.led.Account("B")
	assert.Equal(t, int64(10_000-500), acc.Available)
	assert.Zero(t, acc.Reserved)
	d, _ := f.e.Depth("ACME", 0)
	assert.Empty(t, d.Bids)

	// terminal: rejected, no state change
	_, err = f.e.Cancel(f.ctx, buy.Order.ID, "B")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, acc, f.led.Account("B"))
}

func TestCancelFilledOrderRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 10_000)
	f.grant("S", "ACME", 100)

	sell := f.limit("S", order.Sell, 50, 10)
	f.limit("B", order.Buy, 50, 10)

	before := f.led.Position("S", "ACME")
	_, err := f.e.Cancel(f.ctx, sell.Order.ID, "S")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, before, f.led.Position("S", "ACME"))
}

func TestMarketBuyReservesSweepCost(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.grant("S", "ACME", 100)
	f.limit("S", order.Sell, 50, 10)
	f.limit("S", order.Sell, 52, 10)

	f.fund("poor", 1019)
	res, err := f.market("poor", order.Buy, 20)
	require.ErrorIs(t, err, errs.ErrInsufficientResource)
	assert.Equal(t, order.Rejected, res.Order.Status)

	f.fund("B", 1020)
	res, err = f.market("B", order.Buy, 25)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(20), res.Order.Filled)
	assert.Equal(t, order.Cancelled, res.Order.Status, "unfilled market remainder is cancelled")
	assert.Equal(t, ledger.CashAccount{OwnerID: "B"}, f.led.Account("B"))
}

func TestMarketBuyHeadroomReleased(t *testing.T) {
	f := newFixture(t, Config{MarketBuyBufferBps: 100}, nil)
	f.grant("S", "ACME", 100)
	f.limit("S", order.Sell, 50, 20)

	f.fund("B", 1010)
	res, err := f.market("B", order.Buy, 20)
	require.NoError(t, err)
	assert.Equal(t, order.Filled, res.Order.Status)
	assert.Equal(t, ledger.CashAccount{OwnerID: "B", Available: 10}, f.led.Account("B"))
}

func TestMarketSellRemainderReleasesShares(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 10_000)
	f.grant("S", "ACME", 100)
	f.limit("B", order.Buy, 45, 30)

	res, err := f.market("S", order.Sell, 50)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(45), res.Trades[0].Price)
	assert.Equal(t, order.Cancelled, res.Order.Status)

	pos := f.led.Position("S", "ACME")
	assert.Equal(t, int64(70), pos.Quantity)
	assert.Zero(t, pos.Reserved)
}

func TestEventsTradesThenSinglePriceUpdate(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.grant("S", "ACME", 100)
	f.fund("B", 100_000)
	f.limit("S", order.Sell, 50, 10)
	f.limit("S", order.Sell, 51, 10)
	f.pub.take()

	f.limit("B", order.Buy, 51, 15)
	evs := f.pub.take()
	require.Len(t, evs, 3)
	assert.Equal(t, int64(50), evs[0].(events.TradeExecuted).Price)
	assert.Equal(t, int64(51), evs[1].(events.TradeExecuted).Price)
	assert.Equal(t, events.PriceUpdated{InstrumentID: "ACME", Price: 51, UpdatedAt: evs[1].(events.TradeExecuted).ExecutedAt}, evs[2])

	// same price again: trade event only
	f.limit("B", order.Buy, 51, 5)
	evs = f.pub.take()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeTradeExecuted, evs[0].Type())

	// no trade: no events
	f.limit("B", order.Buy, 40, 5)
	assert.Empty(t, f.pub.take())
}

func TestSelfTradeSettles(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("C", 1000)
	f.grant("C", "ACME", 10)

	f.limit("C", order.Sell, 50, 10)
	res := f.limit("C", order.Buy, 50, 10)
	require.Len(t, res.Trades, 1)

	assert.Equal(t, ledger.CashAccount{OwnerID: "C", Available: 1000}, f.led.Account("C"))
	pos := f.led.Position("C", "ACME")
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Zero(t, pos.Reserved)
}

func TestInvariantViolationHaltsInstrument(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, DefaultConfig(), store)
	f.grant("S", "ACME", 100)
	f.fund("B", 10_000)
	f.limit("S", order.Sell, 50, 10)

	// admission lands, settlement does not
	store.failAfter(1)
	res, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 50, Quantity: 10,
	})
	require.ErrorIs(t, err, errs.ErrInvariantViolation)
	assert.True(t, errs.IsFatal(err))
	assert.Empty(t, res.Trades)

	inst, _ := f.reg.Get("ACME")
	assert.Equal(t, market.Halted, inst.Status())

	store.heal()
	_, err = f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 50, Quantity: 1,
	})
	assert.ErrorIs(t, err, errs.ErrValidation)

	// other instruments keep trading
	f.grant("S", "GLOBX", 5)
	_, err = f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "GLOBX", OwnerID: "S", Side: order.Sell, Kind: order.Limit, LimitPrice: 5, Quantity: 5,
	})
	assert.NoError(t, err)
}

func TestStoreFailureAtAdmissionHalts(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, DefaultConfig(), store, WithJournal(store))
	f.grant("S", "ACME", 10)
	store.failAfter(0)

	res, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "S", Side: order.Sell, Kind: order.Limit, LimitPrice: 5, Quantity: 5,
	})
	assert.ErrorIs(t, err, errs.ErrInvariantViolation)
	assert.Equal(t, order.Rejected, res.Order.Status)
	assert.Zero(t, f.led.Position("S", "ACME").Reserved, "reservation not applied")
	inst, _ := f.reg.Get("ACME")
	assert.Equal(t, market.Halted, inst.Status())
}

func TestSubmitHonoursContextWhileWaiting(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, DefaultConfig(), nil, WithMetrics(metrics.New(reg)))
	f.grant("S", "ACME", 10)

	b, err := f.e.bookFor("ACME")
	require.NoError(t, err)
	require.NoError(t, b.lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.e.Submit(ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "S", Side: order.Sell, Kind: order.Limit, LimitPrice: 5, Quantity: 5,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, order.Rejected, res.Order.Status)

	b.unlock()
	assert.Zero(t, f.led.Position("S", "ACME").Reserved)

	// every submission is accounted for as accepted or rejected
	const want = `
# HELP exchange_orders_rejected_total Orders rejected at admission, by error kind
# TYPE exchange_orders_rejected_total counter
exchange_orders_rejected_total{instrument="ACME",reason="timeout"} 1
# HELP exchange_orders_submitted_total Orders received by the engine
# TYPE exchange_orders_submitted_total counter
exchange_orders_submitted_total{instrument="ACME",kind="limit",side="sell"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want),
		"exchange_orders_rejected_total", "exchange_orders_submitted_total"))
}

func TestTradesNewestFirst(t *testing.T) {
	f := newFixture(t, Config{TradeHistory: 2}, nil)
	f.grant("S", "ACME", 100)
	f.fund("B", 100_000)
	for _, p := range []int64{50, 51, 52} {
		f.limit("S", order.Sell, p, 1)
		f.limit("B", order.Buy, p, 1)
	}
	trades, err := f.e.Trades("ACME", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(52), trades[0].Price)
	assert.Equal(t, int64(51), trades[1].Price)

	_, err = f.e.Trades("NOPE", 1)
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestOpenOrders(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.fund("B", 100_000)
	first := f.limit("B", order.Buy, 40, 1)
	second := f.limit("B", order.Buy, 41, 1)

	open := f.e.OpenOrders("B")
	require.Len(t, open, 2)
	assert.Equal(t, first.Order.ID, open[0].ID)
	assert.Equal(t, second.Order.ID, open[1].ID)
	assert.Empty(t, f.e.OpenOrders("nobody"))
}

func TestRestore(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, DefaultConfig(), store, WithJournal(store))
	f.fund("B", 100_000)
	f.grant("S", "ACME", 100)
	f.limit("S", order.Sell, 55, 30)
	f.limit("S", order.Sell, 56, 30)
	partial := f.limit("B", order.Buy, 50, 20)
	filledSell := f.limit("S", order.Sell, 50, 5)
	bidBefore := f.limit("B", order.Buy, 50, 7)

	want, err := f.e.Digest("ACME")
	require.NoError(t, err)
	trades, err := f.e.Trades("ACME", 0)
	require.NoError(t, err)
	lastSeq := f.e.seq.Current()

	reg := market.NewRegistry()
	_, err = reg.Register("ACME", 1_000_000, 0)
	require.NoError(t, err)
	led := store.reload(t)
	restored := New(DefaultConfig(), reg, led, WithJournal(store))
	require.NoError(t, restored.Restore(store.openOrders(), trades))

	got, err := restored.Digest("ACME")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(50), func() int64 { i, _ := reg.Get("ACME"); return i.LastTradePrice() }())

	o, err := restored.Order(partial.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PartiallyFilled, o.Status)

	o, err = restored.Order(filledSell.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Filled, o.Status, "finished orders read back from the journal")

	res, err := restored.Submit(context.Background(), SubmitRequest{
		InstrumentID: "ACME", OwnerID: "S", Side: order.Sell, Kind: order.Limit, LimitPrice: 50, Quantity: 20,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Order.Sequence, lastSeq)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, partial.Order.ID, res.Trades[0].BuyOrderID, "restored book keeps time priority")
	assert.Equal(t, bidBefore.Order.ID, res.Trades[1].BuyOrderID)

	// bidBefore still rests 2 shares at 50
	assert.Equal(t, int64(100), led.Account("B").Reserved)
}

func TestRestoreAfterSettlementFailureMidSweep(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, DefaultConfig(), store, WithJournal(store))
	f.fund("B", 10_000)
	f.grant("S1", "ACME", 100)
	f.grant("S2", "ACME", 100)
	first := f.limit("S1", order.Sell, 50, 10)
	second := f.limit("S2", order.Sell, 51, 10)

	// admission and the first trade reach the store, the second trade does not
	store.failAfter(2)
	res, err := f.e.Submit(f.ctx, SubmitRequest{
		InstrumentID: "ACME", OwnerID: "B", Side: order.Buy, Kind: order.Limit, LimitPrice: 51, Quantity: 20,
	})
	require.ErrorIs(t, err, errs.ErrInvariantViolation)
	require.Len(t, res.Trades, 1)
	store.heal()

	reg := market.NewRegistry()
	_, err = reg.Register("ACME", 1_000_000, 0)
	require.NoError(t, err)
	led := store.reload(t)
	restored := New(DefaultConfig(), reg, led, WithJournal(store))
	require.NoError(t, restored.Restore(store.openOrders(), nil))

	// the filled maker comes back filled, with its shares gone
	o, err := restored.Order(first.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Filled, o.Status)
	assert.Zero(t, o.Reserved)
	_, err = restored.Cancel(f.ctx, first.Order.ID, "S1")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, int64(90), led.Position("S1", "ACME").Quantity)
	assert.Zero(t, led.Position("S1", "ACME").Reserved)

	// the cut-off taker is cancelled and its price improvement returned
	taker, err := restored.Order(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, taker.Status)
	assert.Equal(t, int64(10), taker.Filled)
	assert.Equal(t, ledger.CashAccount{OwnerID: "B", Available: 9_500}, led.Account("B"))

	// the untouched maker still rests and cancels cleanly
	d, err := restored.Depth("ACME", 0)
	require.NoError(t, err)
	assert.Empty(t, d.Bids)
	require.Len(t, d.Asks, 1)
	_, err = restored.Cancel(f.ctx, second.Order.ID, "S2")
	require.NoError(t, err)
	assert.Zero(t, led.Position("S2", "ACME").Reserved)
}

func TestFinishedOrdersLeaveMemory(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, Config{OrderHistory: 8}, store, WithJournal(store))
	f.grant("S", "ACME", 1_000)
	f.fund("B", 1_000_000)

	var first string
	for i := 0; i < 1_000; i++ {
		sell := f.limit("S", order.Sell, 50, 1)
		if i == 0 {
			first = sell.Order.ID
		}
		f.limit("B", order.Buy, 50, 1)
	}

	b := f.e.books["ACME"]
	assert.Zero(t, b.ob.Len())
	assert.Empty(t, b.orders)
	assert.Len(t, b.finished, 8)
	assert.Len(t, b.retired, 8)
	assert.Len(t, f.e.index, 8)

	o, err := f.e.Order(first)
	require.NoError(t, err)
	assert.Equal(t, order.Filled, o.Status)

	_, err = f.e.Cancel(f.ctx, first, "S")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.e.Cancel(f.ctx, first, "B")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.e.Order("never-admitted")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestIssueRespectsOutstandingSupply(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	_, err := f.reg.Register("SMALL", 1_000, 200)
	require.NoError(t, err)

	require.NoError(t, f.e.Issue(f.ctx, "founder", "SMALL", 500, 10))
	assert.ErrorIs(t, f.e.Issue(f.ctx, "angel", "SMALL", 301, 10), errs.ErrInsufficientResource)
	assert.ErrorIs(t, f.e.Issue(f.ctx, "whale", "SMALL", 5_000, 1), errs.ErrInsufficientResource)
	assert.Equal(t, int64(500), f.led.TotalShares("SMALL"))

	require.NoError(t, f.e.Issue(f.ctx, "angel", "SMALL", 300, 10))
	assert.ErrorIs(t, f.e.Issue(f.ctx, "angel", "SMALL", 1, 10), errs.ErrInsufficientResource)
	assert.Equal(t, int64(800), f.led.TotalShares("SMALL"))

	assert.ErrorIs(t, f.e.Issue(f.ctx, "x", "NOSUCH", 1, 1), market.ErrUnknownInstrument)
	assert.ErrorIs(t, f.e.Issue(f.ctx, "x", "SMALL", 0, 1), errs.ErrValidation)
}

func TestLockUpGuardsIssuedShares(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	inst, err := f.reg.Register("LOCKD", 1_000, 0)
	require.NoError(t, err)
	require.NoError(t, f.e.Issue(f.ctx, "founder", "LOCKD", 900, 1))

	assert.ErrorIs(t, f.e.Lock(f.ctx, "LOCKD", 200), errs.ErrInsufficientResource)
	require.NoError(t, f.e.Lock(f.ctx, "LOCKD", 100))
	assert.Equal(t, int64(900), inst.OutstandingTradable())
	assert.ErrorIs(t, f.e.Issue(f.ctx, "late", "LOCKD", 1, 1), errs.ErrInsufficientResource)

	assert.ErrorIs(t, f.e.Unlock(f.ctx, "LOCKD", 101), errs.ErrInsufficientResource)
	require.NoError(t, f.e.Unlock(f.ctx, "LOCKD", 100))
	require.NoError(t, f.e.Issue(f.ctx, "late", "LOCKD", 100, 1))
	assert.ErrorIs(t, f.e.Lock(f.ctx, "NOSUCH", 1), market.ErrUnknownInstrument)
}
