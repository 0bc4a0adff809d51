package reactor

import (
	"errors"
	"syscall"
	"time"

	"github.com/mash-protocol/ktls-go/pkg/log"
)

func (r *Reactor) logEvent(c *Conn, event log.Event) {
	event.Timestamp = time.Now()
	if c != nil {
		event.ConnectionID = c.connID
		if addr := c.RemoteAddr(); addr != nil {
			event.RemoteAddr = addr.String()
		}
		event.CipherSuite = c.session.CipherSuite
	}
	r.plog.Log(event)
}

func (r *Reactor) logState(c *Conn, oldState, newState, reason string) {
	r.logEvent(c, log.Event{
		Layer:    log.LayerSocket,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (r *Reactor) logReactorState(oldState, newState string) {
	r.logEvent(nil, log.Event{
		Layer:    log.LayerSocket,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityReactor,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func (r *Reactor) logOffload(c *Conn, protocol, suite string, seq uint64, accepted bool) {
	r.logEvent(c, log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerOffload,
		Category:  log.CategoryOffload,
		Offload: &log.OffloadEvent{
			Protocol:    protocol,
			CipherSuite: suite,
			Sequence:    seq,
			Accepted:    accepted,
		},
	})
}

func (r *Reactor) logRecord(c *Conn, dir log.Direction, data []byte) {
	rec := &log.RecordEvent{Size: len(data)}
	if len(data) > maxLoggedPayload {
		rec.Data = append([]byte(nil), data[:maxLoggedPayload]...)
		rec.Truncated = true
	} else {
		rec.Data = append([]byte(nil), data...)
	}
	r.logEvent(c, log.Event{
		Direction: dir,
		Layer:     log.LayerRecord,
		Category:  log.CategoryRecord,
		Record:    rec,
	})
}

func (r *Reactor) logError(c *Conn, layer log.Layer, op string, err error) {
	data := &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: op,
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code := int(errno)
		data.Code = &code
	}
	r.logEvent(c, log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error:    data,
	})
}
