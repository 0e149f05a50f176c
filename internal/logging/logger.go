// Package logging builds the zap loggers used by shelfkit and tags them by
// subsystem category. Categories can be switched off individually from the
// logging section of shelfkit.yaml.
package logging

import (
	"fmt"

	"shelfkit/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // CLI startup, config loading
	CategoryFixture Category = "fixture" // EPUB fixture generation
	CategoryBrowser Category = "browser" // Chrome lifecycle, CDP calls, hijacked routes
	CategoryVerify  Category = "verify"  // Phase orchestration and assertions
	CategoryStub    Category = "stub"    // Stand-in library app
)

// New builds a logger from the logging config. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = !verbose

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// With returns a child logger tagged with category. A nil parent yields a
// no-op logger so callers never need to guard.
func With(parent *zap.Logger, category Category) *zap.Logger {
	if parent == nil {
		return zap.NewNop()
	}
	return parent.With(zap.String("category", string(category)))
}

// Filtered returns parent, or a no-op logger when category is disabled in
// cfg. Components tag their own records with With.
func Filtered(parent *zap.Logger, cfg config.LoggingConfig, category Category) *zap.Logger {
	if parent == nil || !cfg.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}
	return parent
}
