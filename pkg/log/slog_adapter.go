package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful during development to see the connection trace on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.CipherSuite != "" {
		attrs = append(attrs, slog.String("suite", event.CipherSuite))
	}

	switch {
	case event.Record != nil:
		attrs = append(attrs,
			slog.Int("size", event.Record.Size),
			slog.Bool("truncated", event.Record.Truncated),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Offload != nil:
		attrs = append(attrs,
			slog.String("protocol", event.Offload.Protocol),
			slog.String("offload_suite", event.Offload.CipherSuite),
			slog.Uint64("seq", event.Offload.Sequence),
			slog.Bool("accepted", event.Offload.Accepted),
		)
	case event.Transfer != nil:
		attrs = append(attrs,
			slog.Int64("offset", event.Transfer.Offset),
			slog.Int64("requested", event.Transfer.Requested),
			slog.Int64("sent", event.Transfer.Sent),
			slog.Duration("duration", event.Transfer.Duration),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "ktls", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
