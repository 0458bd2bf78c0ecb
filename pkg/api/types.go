package api

import "github.com/shopspring/decimal"

// API request/response types for REST endpoints and WebSocket messages.
// Prices and cash cross the wire as decimal currency amounts; the engine
// works in integer ticks.

// ==============================
// REST Response Types
// ==============================

// InstrumentInfo represents an instrument's supply and trading status
type InstrumentInfo struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"` // "Active", "Halted", "Delisted"
	HaltReason          string          `json:"haltReason,omitempty"`
	TotalShares         int64           `json:"totalShares"`
	LockedShares        int64           `json:"lockedShares"`
	OutstandingTradable int64           `json:"outstandingTradable"`
	LastTradePrice      decimal.Decimal `json:"lastTradePrice"`
}

// BookSnapshot represents aggregated book depth
type BookSnapshot struct {
	InstrumentID string       `json:"instrumentId"`
	Bids         []PriceLevel `json:"bids"` // Sorted high to low
	Asks         []PriceLevel `json:"asks"` // Sorted low to high
	Timestamp    int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel represents aggregated quantity at one price
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Size   int64           `json:"size"`
	Orders int             `json:"orders"`
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	ID           string          `json:"id"`
	InstrumentID string          `json:"instrumentId"`
	BuyOrderID   string          `json:"buyOrderId"`
	SellOrderID  string          `json:"sellOrderId"`
	Price        decimal.Decimal `json:"price"`
	Size         int64           `json:"size"`
	TakerSide    string          `json:"takerSide"` // "buy" or "sell"
	Timestamp    int64           `json:"timestamp"` // Unix milliseconds
}

// AccountInfo represents an owner's cash and holdings
type AccountInfo struct {
	Owner     string          `json:"owner"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"` // Backing open buy orders
	Total     decimal.Decimal `json:"total"`
	Positions []PositionInfo  `json:"positions"`
}

// PositionInfo represents shares held in one instrument
type PositionInfo struct {
	InstrumentID string          `json:"instrumentId"`
	Quantity     int64           `json:"quantity"`
	Reserved     int64           `json:"reserved"` // Backing open sell orders
	AverageCost  decimal.Decimal `json:"averageCost"`
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID           string          `json:"id"`
	InstrumentID string          `json:"instrumentId"`
	Owner        string          `json:"owner"`
	Side         string          `json:"side"` // "buy" or "sell"
	Type         string          `json:"type"` // "limit" or "market"
	Price        decimal.Decimal `json:"price"`
	Size         int64           `json:"size"`
	Filled       int64           `json:"filled"`
	Remaining    int64           `json:"remaining"`
	Status       string          `json:"status"`
	Timestamp    int64           `json:"timestamp"` // Unix milliseconds
}

// SubmitOrderResponse is the post-match state of a submitted order
type SubmitOrderResponse struct {
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SubmitErrorResponse is returned when the engine saw the order: it carries
// the Rejected order, or the order and the trades that settled before an
// instrument halt
type SubmitErrorResponse struct {
	ErrorResponse
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"`
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	InstrumentID string          `json:"instrumentId"`
	Owner        string          `json:"owner"`
	Side         string          `json:"side"` // "buy" or "sell"
	Type         string          `json:"type"` // "limit" or "market"
	Price        decimal.Decimal `json:"price"` // omitted for market orders
	Size         int64           `json:"size"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	Owner   string `json:"owner"`
	OrderID string `json:"orderId"`
}

// DepositRequest is the payload for POST /api/v1/accounts/{owner}/deposit
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// IssueRequest is the payload for POST /api/v1/instruments/{id}/issue
type IssueRequest struct {
	Owner    string          `json:"owner"`
	Quantity int64           `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"` // per share
}

// LockRequest is the payload for POST /api/v1/instruments/{id}/lock and /unlock
type LockRequest struct {
	Shares int64 `json:"shares"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:ACME", "prices:ACME"]
}
