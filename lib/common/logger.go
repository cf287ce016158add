package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Packages lists the logger names of all packages of this module.
var Packages = []string{"rcu", "datastore", "store", "hive", "incident", "sgkv"}

// logOutput is where all loggers write to. Reports go to stdout, log lines
// to stderr.
var logOutput io.Writer = os.Stderr

var levelNames = map[logger.LogLevel]string{
	logger.CRITICAL: "CRIT",
	logger.ERROR:    "ERROR",
	logger.WARNING:  "WARN",
	logger.INFO:     "INFO",
	logger.DEBUG:    "DEBUG",
}

// pkgLogger writes the lines of one package logger. The level may change
// while other goroutines log.
type pkgLogger struct {
	pkg   string
	level atomic.Int32
	out   *log.Logger
}

// CreateLogger is the logger.Factory installed by InitLoggers.
func CreateLogger(pkg string) logger.ILogger {
	l := &pkgLogger{
		pkg: pkg,
		out: log.New(logOutput, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

func (l *pkgLogger) SetLevel(level logger.LogLevel) { l.level.Store(int32(level)) }

func (l *pkgLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, format, args...)
}

func (l *pkgLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, format, args...)
}

func (l *pkgLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, format, args...)
}

func (l *pkgLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, format, args...)
}

// Panicf logs at critical level and panics regardless of the level.
func (l *pkgLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logf(logger.CRITICAL, "%s", msg)
	panic(msg)
}

func (l *pkgLogger) logf(level logger.LogLevel, format string, args ...interface{}) {
	if int32(level) > l.level.Load() {
		return
	}
	l.out.Printf("%-5s %s: %s", levelNames[level], l.pkg, fmt.Sprintf(format, args...))
}

// ParseLogLevel converts debug, info, warn (or warning) and error to the
// matching level.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warn", "warning":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	}
	return logger.INFO, fmt.Errorf("invalid log level %q, use debug, info, warn or error", level)
}

var factoryOnce sync.Once

// InitLoggers installs CreateLogger as the logger factory and sets the level
// of every logger in Packages. It may be called again to change the level.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	// dragonboat panics if the factory is set twice
	factoryOnce.Do(func() { logger.SetLoggerFactory(CreateLogger) })
	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}
