package logger

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
	once   sync.Once
)

// GetLogger returns zap.Logger instance, but using singleton pattern creates only one reusable instace.
// Package level loggers are built during init, so the encoder is picked from the
// process environment (LOG_DEVELOPMENT, development by default) rather than from .env.
func GetLogger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		if dev, err := strconv.ParseBool(os.Getenv("LOG_DEVELOPMENT")); err == nil && !dev {
			cfg = zap.NewProductionConfig()
		}
		if lvl, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
			level.SetLevel(lvl)
		}
		cfg.Level = level

		var err error
		logger, err = cfg.Build()
		if err != nil {
			panic("failed logger setup : " + err.Error())
		}
	})
	return logger
}

// SetLevel changes the level of every logger returned by GetLogger.
func SetLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}
