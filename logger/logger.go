// Package logger provides structured logging for Auth3 Guard.
//
// It wraps Uber's zap logger with configurable log levels and initializes a
// global instance used throughout the service:
//
//	logger.InitLogger("debug") // Options: debug, info, warn, error
//
//	logger.Log.Info("recovery committed",
//	    zap.String("principal", principalID),
//	)
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func InitLogger(level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var err error
	Log, err = cfg.Build()
	if err != nil {
		panic(err)
	}
}
