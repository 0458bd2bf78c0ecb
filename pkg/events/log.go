package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every event to the logger at Info level
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Handle(_ context.Context, ev Event) error {
	switch e := ev.(type) {
	case TradeExecuted:
		l.log.Info("trade_executed",
			zap.String("instrument", e.InstrumentID),
			zap.String("trade", e.TradeID),
			zap.String("buy_order", e.BuyOrderID),
			zap.String("sell_order", e.SellOrderID),
			zap.Int64("price", e.Price),
			zap.Int64("qty", e.Quantity),
		)
	case PriceUpdated:
		l.log.Info("price_updated", zap.String("instrument", e.InstrumentID), zap.Int64("price", e.Price))
	}
	return nil
}
