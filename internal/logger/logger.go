// Package logger holds the process-wide zap logger.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Rotation limits for the log file
const (
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 30
)

var (
	log  *zap.Logger
	once sync.Once
)

// Init initializes the global logger with console output only
func Init(debug bool) {
	once.Do(func() {
		log = build(debug, os.Stdout, nil)
	})
}

// InitWithFile initializes the global logger with console output and a
// rotated JSON log file
func InitWithFile(debug bool, logFile string) {
	once.Do(func() {
		log = build(debug, os.Stdout, fileSink(logFile))
	})
}

func fileSink(path string) io.Writer {
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
}

// build creates a logger writing human-readable lines to console and, when
// file is set, JSON lines to file
func build(debug bool, console, file io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(console), level),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(file),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Get returns the global logger, initializing it at info level if needed
func Get() *zap.Logger {
	Init(false)
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		log.Sync()
	}
}
