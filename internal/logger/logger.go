package logger

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	logger       = stdlog.New(os.Stdout, "", 0)

	// jsonHandler is set when the json format is selected; nil means text.
	jsonHandler slog.Handler
	output      io.Writer = os.Stdout
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetFormat selects between the "text" line format and "json" records.
// Unknown values fall back to text.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()

	if strings.EqualFold(format, "json") {
		jsonHandler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slog.LevelDebug})
		return
	}
	jsonHandler = nil
}

// SetOutput redirects log output. Accepts "stdout", "stderr" or a file path
// opened in append mode.
func SetOutput(target string) error {
	var w io.Writer
	switch strings.ToLower(target) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log output %q: %w", target, err)
		}
		w = f
	}

	setWriter(w)
	return nil
}

// SetWriter redirects log output to an arbitrary writer (used by tests).
func SetWriter(w io.Writer) {
	setWriter(w)
}

func setWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	logger = stdlog.New(w, "", 0)
	if jsonHandler != nil {
		jsonHandler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
}

// Configure applies level, format and output in one call.
func Configure(level, format, target string) error {
	if err := SetOutput(target); err != nil {
		return err
	}
	SetLevel(level)
	SetFormat(format)
	return nil
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	message := fmt.Sprintf(format, v...)

	if jsonHandler != nil {
		record := slog.NewRecord(time.Now(), level.slogLevel(), message, 0)
		_ = jsonHandler.Handle(context.Background(), record)
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
