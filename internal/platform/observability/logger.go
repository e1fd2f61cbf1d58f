package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/stock-ledger/internal/config"
)

func level(cfg config.Observability) zapcore.Level {
	if cfg.Debug {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

func consoleCore(cfg config.Observability) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level(cfg),
	)
}

func newLogger(cfg config.Observability, core zapcore.Core) *zap.Logger {
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", cfg.ServiceName)),
	)
}

// NewLogger returns a JSON logger writing to stdout.
func NewLogger(cfg config.Observability) (*zap.Logger, error) {
	return newLogger(cfg, consoleCore(cfg)), nil
}

// NewBridgedLogger tees every entry to stdout and to the global OTel logger
// provider, so log records carry the active trace and span ids.
func NewBridgedLogger(cfg config.Observability) *zap.Logger {
	otelCore := otelzap.NewCore(cfg.ServiceName+".manual",
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)
	return newLogger(cfg, zapcore.NewTee(otelCore, consoleCore(cfg)))
}
