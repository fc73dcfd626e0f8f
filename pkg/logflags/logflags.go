// Package logflags configures the per-component debug loggers used
// throughout memsift. Components are enabled with --log-output; loggers
// for disabled components are kept at panic level so call sites never
// have to branch on whether logging is on.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	scanner   = false
	memaccess = false
	watch     = false
	terminal  = false

	logOut io.WriteCloser
)

// Logger represents a generic interface for logging inside memsift.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

func makeLogger(flag bool, layer string) Logger {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	if logOut != nil {
		logger.Out = logOut
	} else {
		logger.Out = os.Stderr
	}
	return &logrusLogger{logger.WithField("layer", layer)}
}

// Scanner returns true if the scan engine should log.
func Scanner() bool {
	return scanner
}

// ScannerLogger returns a logger for the scan engine.
func ScannerLogger() Logger {
	return makeLogger(scanner, "scanner")
}

// MemAccess returns true if raw memory accesses should be logged.
func MemAccess() bool {
	return memaccess
}

// MemAccessLogger returns a logger for the platform memory accessor.
func MemAccessLogger() Logger {
	return makeLogger(memaccess, "memaccess")
}

// WatchLogger returns a logger for the watch service.
func WatchLogger() Logger {
	return makeLogger(watch, "watch")
}

// TerminalLogger returns a logger for the interactive terminal.
func TerminalLogger() Logger {
	return makeLogger(terminal, "terminal")
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the enabled components based on the contents of logstr and
// redirects output to dest if it is non-empty. Dest may be a file path
// or a file descriptor number.
func Setup(logFlag bool, logstr, dest string) error {
	if dest != "" {
		n, err := strconv.Atoi(dest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "memsift-logs")
		} else {
			fh, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "scanner"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "scanner":
			scanner = true
		case "memaccess":
			memaccess = true
		case "watch":
			watch = true
		case "terminal":
			terminal = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output redirection file, if any.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
