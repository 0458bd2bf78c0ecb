// Package engine matches orders per instrument and drives settlement.
//
// Every submission and cancellation for one instrument is serialized through
// that instrument's book; different instruments run fully in parallel and
// share only the ledger, which guards itself.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/ledger"
	"github.com/uhyunpark/stockex/pkg/app/core/market"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/app/core/orderbook"
	"github.com/uhyunpark/stockex/pkg/events"
	"github.com/uhyunpark/stockex/pkg/metrics"
	"github.com/uhyunpark/stockex/pkg/util"
)

// ErrUnknownOrder is returned when an order id was never admitted
var ErrUnknownOrder = errs.New(errs.Validation, "engine", "unknown order")

// Journal reads back orders that have left memory. Order state is written by
// the ledger's store together with the balances it backs.
type Journal interface {
	LoadOrder(orderID string) (*order.Order, error)
}

// Publisher receives TradeExecuted and PriceUpdated events in commit order
type Publisher interface {
	Publish(ev events.Event)
}

type Config struct {
	// MarketBuyBufferBps is headroom added to a Market buy's reservation on
	// top of the exact sweep cost.
	MarketBuyBufferBps int64

	// TradeHistory is the number of recent trades kept per instrument.
	TradeHistory int

	// OrderHistory is the number of finished orders kept in memory per
	// instrument. Older ones are served from the Journal.
	OrderHistory int
}

func DefaultConfig() Config {
	return Config{TradeHistory: 256, OrderHistory: 1024}
}

type Option func(*Engine)

func WithJournal(j Journal) Option          { return func(e *Engine) { e.journal = j } }
func WithPublisher(p Publisher) Option      { return func(e *Engine) { e.pub = p } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(c util.Clock) Option         { return func(e *Engine) { e.clock = c } }
func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.log = l } }

type Engine struct {
	cfg      Config
	registry *market.Registry
	ledger   *ledger.Ledger
	journal  Journal
	pub      Publisher
	metrics  *metrics.Metrics
	clock    util.Clock
	log      *zap.Logger
	seq      *Sequencer

	mu    sync.RWMutex
	books map[string]*book  // instrument id -> book
	index map[string]string // order id -> instrument id, live and recently finished
}

// book is one instrument's serialization point. sem admits one writer at a
// time and lets waiters give up on ctx; mu lets queries read consistently.
type book struct {
	sem chan struct{}

	mu       sync.RWMutex
	inst     *market.Instrument
	ob       *orderbook.OrderBook
	orders   map[string]*order.Order // Open and PartiallyFilled
	finished map[string]*order.Order
	retired  []string      // finished order ids, oldest first
	trades   []order.Trade // most recent last
}

func New(cfg Config, registry *market.Registry, led *ledger.Ledger, opts ...Option) *Engine {
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = DefaultConfig().TradeHistory
	}
	if cfg.OrderHistory <= 0 {
		cfg.OrderHistory = DefaultConfig().OrderHistory
	}
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		ledger:   led,
		clock:    util.RealClock{},
		log:      zap.NewNop(),
		seq:      NewSequencer(0),
		books:    make(map[string]*book),
		index:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("engine")
	return e
}

func (e *Engine) Ledger() *ledger.Ledger     { return e.ledger }
func (e *Engine) Registry() *market.Registry { return e.registry }

// bookFor returns the instrument's book, creating it on first use
func (e *Engine) bookFor(instrument string) (*book, error) {
	e.mu.RLock()
	b, ok := e.books[instrument]
	e.mu.RUnlock()
	if ok {
		return b, nil
	}

	inst, err := e.registry.Get(instrument)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[instrument]; ok {
		return b, nil
	}
	b = &book{
		sem:    make(chan struct{}, 1),
		inst:   inst,
		ob:       orderbook.New(instrument),
		orders:   make(map[string]*order.Order),
		finished: make(map[string]*order.Order),
	}
	e.books[instrument] = b
	return b, nil
}

// lock waits for the instrument's matching path or ctx, whichever comes first
func (b *book) lock(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	return nil
}

func (b *book) unlock() {
	b.mu.Unlock()
	<-b.sem
}

func (b *book) recordTrade(t order.Trade, limit int) {
	b.trades = append(b.trades, t)
	if over := len(b.trades) - limit; over > 0 {
		b.trades = append(b.trades[:0], b.trades[over:]...)
	}
}

func (e *Engine) track(o *order.Order, b *book) {
	b.orders[o.ID] = o
	e.mu.Lock()
	e.index[o.ID] = o.InstrumentID
	e.mu.Unlock()
}

// retire moves terminal orders out of the live set. The newest
// cfg.OrderHistory stay addressable in memory; older ones are forgotten here
// and read back through the Journal. The book lock must be held.
func (e *Engine) retire(b *book, orders ...*order.Order) {
	var evicted []string
	for _, o := range orders {
		if !o.IsTerminal() {
			continue
		}
		if _, ok := b.orders[o.ID]; !ok {
			continue
		}
		delete(b.orders, o.ID)
		b.finished[o.ID] = o
		b.retired = append(b.retired, o.ID)
	}
	if over := len(b.retired) - e.cfg.OrderHistory; over > 0 {
		evicted = append(evicted, b.retired[:over]...)
		b.retired = append(b.retired[:0], b.retired[over:]...)
		for _, id := range evicted {
			delete(b.finished, id)
		}
	}
	if len(evicted) == 0 {
		return
	}
	e.mu.Lock()
	for _, id := range evicted {
		delete(e.index, id)
	}
	e.mu.Unlock()
}

// get returns a live or recently finished order
func (b *book) get(id string) (*order.Order, bool) {
	if o, ok := b.orders[id]; ok {
		return o, true
	}
	o, ok := b.finished[id]
	return o, ok
}

func (e *Engine) locate(orderID string) (*book, error) {
	e.mu.RLock()
	instrument, ok := e.index[orderID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownOrder
	}
	return e.bookFor(instrument)
}

// halt stops the instrument after an invariant violation and returns err
func (e *Engine) halt(b *book, err error) error {
	b.inst.Halt(err.Error())
	e.metrics.InstrumentHalted(b.inst.ID())
	e.log.Error("instrument_halted",
		zap.String("instrument", b.inst.ID()),
		zap.Error(err),
	)
	return err
}

// Order returns a copy of an order by id, falling back to the Journal for
// orders that finished long ago
func (e *Engine) Order(id string) (*order.Order, error) {
	if b, err := e.locate(id); err == nil {
		b.mu.RLock()
		o, ok := b.get(id)
		var cp *order.Order
		if ok {
			cp = o.Clone()
		}
		b.mu.RUnlock()
		if ok {
			return cp, nil
		}
	}
	return e.archived(id)
}

func (e *Engine) archived(id string) (*order.Order, error) {
	if e.journal == nil {
		return nil, ErrUnknownOrder
	}
	o, err := e.journal.LoadOrder(id)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if o == nil {
		return nil, ErrUnknownOrder
	}
	return o, nil
}

// OpenOrders returns copies of an owner's Open and PartiallyFilled orders in
// sequence order
func (e *Engine) OpenOrders(owner string) []*order.Order {
	e.mu.RLock()
	books := make([]*book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	out := make([]*order.Order, 0)
	for _, b := range books {
		b.mu.RLock()
		for _, o := range b.orders {
			if o.OwnerID == owner {
				out = append(out, o.Clone())
			}
		}
		b.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Depth is an aggregated view of the book, best price first on both sides
type Depth struct {
	InstrumentID string
	Bids         []orderbook.PriceLevel
	Asks         []orderbook.PriceLevel
}

// Depth returns up to n levels per side; n <= 0 returns all levels
func (e *Engine) Depth(instrument string, n int) (Depth, error) {
	b, err := e.bookFor(instrument)
	if err != nil {
		return Depth{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Depth{
		InstrumentID: instrument,
		Bids:         b.ob.Depth(order.Buy, n),
		Asks:         b.ob.Depth(order.Sell, n),
	}, nil
}

// Trades returns up to n recent trades, newest first; n <= 0 returns all kept
func (e *Engine) Trades(instrument string, n int) ([]order.Trade, error) {
	b, err := e.bookFor(instrument)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.trades) {
		n = len(b.trades)
	}
	out := make([]order.Trade, 0, n)
	for i := len(b.trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, b.trades[i])
	}
	return out, nil
}
