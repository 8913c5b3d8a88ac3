// Package logger provides the process-wide logging facility used by every
// ALFS component, layered on top of logrus the same way the rest of this
// codebase's lineage wires its logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is the general-purpose instance (debug/trace level messages).
	Logger *logrus.Logger
	// InfoLogger carries info-and-above messages.
	InfoLogger *logrus.Logger
	// ErrorLogger carries warn-and-above messages.
	ErrorLogger *logrus.Logger
)

func init() {
	// Usable before Init runs, e.g. from package-level var initializers and
	// tests that never configure logging explicitly.
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	InfoLogger = Logger
	ErrorLogger = Logger
}

// Config controls where each logger instance writes and at what level.
type Config struct {
	ErrorLogPath string
	InfoLogPath  string
	Level        string // debug, info, warn, error, fatal, panic
}

// callerFormatter tags every line with a trimmed timestamp, level, and the
// caller outside the logging package itself.
type callerFormatter struct{}

func (f *callerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format("15:04:05 2006-01-02")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", ts, level, caller(), entry.Message)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "/logger/logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Init configures Logger, InfoLogger, and ErrorLogger from cfg. It is safe to
// call more than once (e.g. when a host remounts with different options).
func Init(cfg Config) error {
	formatter := &callerFormatter{}
	level := parseLevel(cfg.Level)

	Logger = logrus.New()
	Logger.SetFormatter(formatter)
	Logger.SetLevel(level)

	InfoLogger = logrus.New()
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetLevel(level)

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(level)

	if cfg.InfoLogPath != "" {
		f, err := openLogFile(cfg.InfoLogPath)
		if err != nil {
			InfoLogger.SetOutput(os.Stdout)
			InfoLogger.Warnf("failed to open info log %s, falling back to stdout: %v", cfg.InfoLogPath, err)
		} else {
			InfoLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	} else {
		InfoLogger.SetOutput(os.Stdout)
	}

	if cfg.ErrorLogPath != "" {
		f, err := openLogFile(cfg.ErrorLogPath)
		if err != nil {
			ErrorLogger.SetOutput(os.Stderr)
			ErrorLogger.Warnf("failed to open error log %s, falling back to stderr: %v", cfg.ErrorLogPath, err)
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	} else {
		ErrorLogger.SetOutput(os.Stderr)
	}

	Logger.SetOutput(InfoLogger.Out)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Fields is shorthand for logrus.Fields, used to attach pblk/lblk/section
// context to a log line without every caller importing logrus directly.
type Fields = logrus.Fields

func Debug(args ...interface{})                 { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Info(args ...interface{})                  { InfoLogger.Info(args...) }
func Infof(format string, args ...interface{})  { InfoLogger.Infof(format, args...) }
func Warn(args ...interface{})                  { ErrorLogger.Warn(args...) }
func Warnf(format string, args ...interface{})  { ErrorLogger.Warnf(format, args...) }
func Error(args ...interface{})                 { ErrorLogger.Error(args...) }
func Errorf(format string, args ...interface{}) { ErrorLogger.Errorf(format, args...) }

// WithFields returns an entry pre-populated with structured context, e.g.
//
//	logger.WithFields(logger.Fields{"pblk": p, "lblk": l}).Warn("gc: scan miss")
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}
