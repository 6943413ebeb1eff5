package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log writes events to a zap logger. Margin calls are warnings and failed
// liquidations are errors; everything else is info.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("events")}
}

func (l *Log) Emit(_ context.Context, ev Event) error {
	level := zapcore.InfoLevel
	switch ev.Type() {
	case TypeMarginCall:
		level = zapcore.WarnLevel
	case TypeLiquidationFailed:
		level = zapcore.ErrorLevel
	}
	l.log.Check(level, string(ev.Type())).Write(
		zap.String("account_id", ev.Key()),
		zap.Any("event", ev),
	)
	return nil
}
