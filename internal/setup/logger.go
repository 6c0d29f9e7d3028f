package setup

import (
	"fmt"

	"github.com/crosswatch/crosswatch/internal/setup/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the application logger from the debug configuration.
func NewLogger(debug *config.Debug) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(debug.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", debug.LogLevel, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
