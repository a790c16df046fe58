package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// level reads COMMSYNC_LOG_LEVEL; anything unparseable falls back to info.
func level() zapcore.Level {
	if raw := os.Getenv("COMMSYNC_LOG_LEVEL"); raw != "" {
		var l zapcore.Level
		if err := l.Set(raw); err == nil {
			return l
		}
	}
	return zapcore.InfoLevel
}

// NewDaemon creates the daemon logger: JSON to the session log file plus
// a console tee on stderr. Session name and PID are initial fields so
// multi-session log aggregation stays separable.
func NewDaemon(logPath, sessionName string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := level()
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), lvl),
	)

	return zap.New(core,
		zap.Fields(
			zap.String("session", sessionName),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}
