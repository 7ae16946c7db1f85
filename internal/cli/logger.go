// Package cli provides the command-line interface for switchyard.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrz1836/switchyard/internal/config"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/logging"
)

// logFileWriter holds the log file writer for cleanup purposes.
var logFileWriter io.WriteCloser //nolint:gochecknoglobals // Needed for cleanup

// zerologGlobalMu protects concurrent writes to the zerolog global logger.
var zerologGlobalMu sync.Mutex //nolint:gochecknoglobals // Protects zerolog global

// InitLogger creates and configures a zerolog.Logger based on verbosity
// flags.
//
// Log levels: verbose=Debug, quiet=Warn, default Info. Output is a
// console writer on a TTY (without NO_COLOR), JSON to stderr otherwise.
// The logger also writes to ~/.switchyard/logs/switchyard.log with
// rotation enabled; if the log file cannot be created, console-only
// logging continues.
func InitLogger(verbose, quiet bool) zerolog.Logger {
	level := selectLevel(verbose, quiet)
	console := selectOutput()

	var writer io.Writer = console
	if fileWriter, err := createLogFileWriter(); err == nil {
		logFileWriter = fileWriter
		writer = zerolog.MultiLevelWriter(console, fileWriter)
	}

	logger := zerolog.New(writer).
		Level(level).
		Hook(logging.NewSensitiveDataHook()).
		With().Timestamp().Logger()

	setGlobalLogger(logger)
	return logger
}

// CloseLogFile closes the global log file writer if it was opened.
// Call during application shutdown.
func CloseLogFile() {
	if logFileWriter != nil {
		_ = logFileWriter.Close()
		logFileWriter = nil
	}
}

func setGlobalLogger(cliLogger zerolog.Logger) {
	zerologGlobalMu.Lock()
	defer zerologGlobalMu.Unlock()
	log.Logger = cliLogger
}

func selectLevel(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}
	return os.Stderr
}

// filteringWriteCloser wraps a WriteCloser with sensitive data filtering.
type filteringWriteCloser struct {
	filter *logging.FilteringWriter
	closer io.Closer
}

func (fwc *filteringWriteCloser) Write(p []byte) (n int, err error) {
	return fwc.filter.Write(p)
}

func (fwc *filteringWriteCloser) Close() error {
	return fwc.closer.Close()
}

// createLogFileWriter creates a rotating file writer for the global CLI
// log, wrapped with the sensitive-data filter.
func createLogFileWriter() (io.WriteCloser, error) {
	home, err := config.GlobalConfigDir()
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(home, constants.LogsDir)
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, constants.CLILogFileName),
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   constants.LogCompress,
	}

	return &filteringWriteCloser{
		filter: logging.NewFilteringWriter(lj),
		closer: lj,
	}, nil
}
