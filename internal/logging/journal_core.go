package logging

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/journal"
	"go.uber.org/zap/zapcore"
)

// journalCore is a zapcore.Core that forwards entries to the systemd
// journal instead of stderr, for the --journal boundary flag
// (SPEC_FULL.md §6). It is grounded on the same go-systemd/v22 package
// tailsrv also uses for readiness notification.
type journalCore struct {
	level zapcore.LevelEnabler
	enc   zapcore.Encoder
	vars  map[string]string
}

func newJournalCore(level zapcore.Level) (*journalCore, error) {
	if !journal.Enabled() {
		return nil, fmt.Errorf("logging: systemd journal is not available on this system")
	}
	encCfg := zapcore.EncoderConfig{
		MessageKey:    "msg",
		LevelKey:      "",
		NameKey:       "",
		CallerKey:     "",
		StacktraceKey: "",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
	}
	return &journalCore{
		level: level,
		enc:   zapcore.NewConsoleEncoder(encCfg),
		vars:  map[string]string{"SYSLOG_IDENTIFIER": "tailsrv"},
	}, nil
}

func (c *journalCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

func (c *journalCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &journalCore{level: c.level, enc: c.enc.Clone(), vars: c.vars}
	for _, f := range fields {
		f.AddTo(clone.enc.(zapcore.ObjectEncoder))
	}
	return clone
}

func (c *journalCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *journalCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	return journal.Send(buf.String(), levelToPriority(ent.Level), c.vars)
}

func (c *journalCore) Sync() error { return nil }

func levelToPriority(lvl zapcore.Level) journal.Priority {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return journal.PriErr
	case lvl >= zapcore.WarnLevel:
		return journal.PriWarning
	case lvl >= zapcore.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
