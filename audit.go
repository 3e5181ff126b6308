package impactlog

import (
	"io"

	"github.com/impactlog/impactlog/internal/audit"
)

// AuditEvent is one audit record. See [AuditSink].
type AuditEvent = audit.Event

// AuditSink receives audit events from the controller's dispatcher
// goroutine. Implementations should return quickly.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
