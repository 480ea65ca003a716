// Package logging builds the zap.Logger tailsrv uses throughout, wiring
// verbosity from CLI flags and a conventional environment variable
// (spec.md §6) and optionally redirecting output to the systemd journal
// (SPEC_FULL.md §6).
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger. Verbosity and Quiet mirror the -v/-q CLI
// flags; Env is the value of TAILSRV_LOG, consulted only when neither flag
// was given.
type Options struct {
	Verbosity int
	Quiet     bool
	Env       string
	Journal   bool
}

// New builds the process-wide logger.
func New(opts Options) (*zap.Logger, error) {
	level := resolveLevel(opts)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if opts.Journal {
		jc, err := newJournalCore(level)
		if err != nil {
			return nil, fmt.Errorf("logging: journal core: %w", err)
		}
		core = jc
	} else {
		enc := zapcore.NewConsoleEncoder(encCfg)
		core = zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	}
	return zap.New(core), nil
}

func resolveLevel(opts Options) zapcore.Level {
	if opts.Quiet {
		return zapcore.ErrorLevel
	}
	if opts.Verbosity > 0 {
		// Each -v drops the threshold by one step below Info; zap has no
		// built-in "Trace", so a second -v also lands on Debug.
		return zapcore.DebugLevel
	}
	switch opts.Env {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
