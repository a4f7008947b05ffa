package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ClientNotifier delivers one formatted log line to the editor's log sink.
type ClientNotifier func(level zapcore.Level, message string)

// ClientSink is the editor-side log destination of one session. Entries
// written before Attach, or after Detach, are dropped by the sink (the process
// log still receives them).
type ClientSink struct {
	notifier atomic.Pointer[ClientNotifier]
	level    zapcore.LevelEnabler
}

// NewClientSink creates a detached sink that accepts entries at or above level.
func NewClientSink(level zapcore.LevelEnabler) *ClientSink {
	return &ClientSink{level: level}
}

// Attach routes subsequent entries to n.
func (s *ClientSink) Attach(n ClientNotifier) {
	s.notifier.Store(&n)
}

// Detach stops forwarding.
func (s *ClientSink) Detach() {
	s.notifier.Store(nil)
}

// Attached reports whether a notifier is set.
func (s *ClientSink) Attached() bool {
	return s.notifier.Load() != nil
}

func (s *ClientSink) deliver(level zapcore.Level, message string) {
	if n := s.notifier.Load(); n != nil {
		(*n)(level, message)
	}
}

// WithClient returns base teed into sink. Named children and With() fields
// carry over to the client copy of each entry.
func WithClient(base *zap.SugaredLogger, sink *ClientSink) *zap.SugaredLogger {
	return base.Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, &clientCore{sink: sink, enc: zapcore.NewConsoleEncoder(clientEncoderConfig())})
	})).Sugar()
}

func clientEncoderConfig() zapcore.EncoderConfig {
	// The editor timestamps and classifies window/logMessage itself
	return zapcore.EncoderConfig{
		MessageKey:       "msg",
		NameKey:          "logger",
		EncodeName:       zapcore.FullNameEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

type clientCore struct {
	sink *ClientSink
	enc  zapcore.Encoder
}

func (c *clientCore) Enabled(level zapcore.Level) bool {
	return c.sink.level.Enabled(level)
}

func (c *clientCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &clientCore{sink: c.sink, enc: enc}
}

func (c *clientCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *clientCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if !c.sink.Attached() {
		return nil
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	msg := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	c.sink.deliver(ent.Level, msg)
	return nil
}

func (c *clientCore) Sync() error {
	return nil
}
