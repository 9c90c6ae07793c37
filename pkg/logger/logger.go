package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/invoicing/pkg/config"
)

// New builds the process logger. Dev runs log at debug level with the same
// JSON encoder so log shipping config does not differ between environments.
func New(cfg *config.Config) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "time"
	if cfg != nil && cfg.Env != config.EnvProd {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().With("service", "invoicing"), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
