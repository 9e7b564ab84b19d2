package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds the zap logger: production JSON, or a development console logger
// when format is "console".
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid logging format %q", cfg.Format)
	}
	zc.Level = level
	return zc.Build()
}
