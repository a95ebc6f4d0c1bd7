package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger that writes JSON to the given log file path and a
// console rendering to stderr. Session name and PID are included as initial
// fields. With debug set both sinks log at debug level.
func New(logPath, sessionName string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	return zap.New(newCore(file, os.Stderr, level),
		zap.Fields(
			zap.String("session", sessionName),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}

func newCore(file, console zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), file, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), console, level),
	)
}
