// Package logging builds the go-kit loggers used across the service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Formats accepted by New.
const (
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// New returns a leveled logger writing to w. Every line carries a UTC
// timestamp and the caller.
func New(w io.Writer, format, lvl string) (log.Logger, error) {
	var logger log.Logger
	switch strings.ToLower(format) {
	case "", FormatLogfmt:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FormatJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	opt, err := levelOption(lvl)
	if err != nil {
		return nil, err
	}
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

// NewStderr is New writing to os.Stderr.
func NewStderr(format, lvl string) (log.Logger, error) {
	return New(os.Stderr, format, lvl)
}

func levelOption(lvl string) (level.Option, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
}

// CheckFatal logs err and exits with status 1 if err is non-nil.
func CheckFatal(logger log.Logger, location string, err error) {
	if err == nil {
		return
	}
	l := level.Error(logger)
	if location != "" {
		l = log.With(l, "msg", "error "+location)
	}
	// %+v keeps the stack trace of errors built with github.com/pkg/errors
	l.Log("err", fmt.Sprintf("%+v", err))
	os.Exit(1)
}
