package config

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the engine logger writing to a size-rotated file.
// An empty file path logs to stderr instead.
func NewLogger(cfg LogConfig) (*log.Logger, io.Closer) {
	if cfg.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags|log.Lmsgprefix), io.NopCloser(nil)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return log.New(writer, "", log.LstdFlags|log.Lmsgprefix), writer
}
