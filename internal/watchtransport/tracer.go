package watchtransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// traceOutboxCapacity bounds how many undelivered trace events a slow
// client can queue; unlike a watch, a trace never needs to show "the
// latest value" so a dropped event is simply never seen, not replaced.
const traceOutboxCapacity = 8

// TraceFrame is the JSON payload pushed to a websocket client for each
// TraceEvent (spec §6 submit_trace).
type TraceFrame struct {
	Document     string    `json:"document"`
	OverridesKey string    `json:"overrides_key"`
	Version      uint32    `json:"version"`
	Status       string    `json:"status"`
	SentAt       time.Time `json:"sent_at"`
}

// TraceConnection adapts a gorilla/websocket connection into a
// core.Tracer, mirroring Connection's role for core.Watcher.
type TraceConnection struct {
	id     string
	conn   *websocket.Conn
	log    *slog.Logger
	outbox chan TraceFrame
	done   chan struct{}

	keepalive *core.TracerHandle
}

// UpgradeTrace promotes an HTTP request to a websocket connection and
// returns a TraceConnection ready to register as a core.Tracer. Callers
// must call Run in its own goroutine to drain trace events onto the
// wire.
func UpgradeTrace(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*TraceConnection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &TraceConnection{
		id:     id,
		conn:   conn,
		log:    log.With("component", "watchtransport", "trace_connection_id", id),
		outbox: make(chan TraceFrame, traceOutboxCapacity),
		done:   make(chan struct{}),
	}, nil
}

// ID satisfies core.Tracer.
func (c *TraceConnection) ID() string { return c.id }

// Pin satisfies core.TracerKeepaliveSink.
func (c *TraceConnection) Pin(handle *core.TracerHandle) {
	c.keepalive = handle
}

// NotifyTrace satisfies core.Tracer, dropping the oldest queued frame
// rather than block the scheduler/worker pipeline on a slow reader.
func (c *TraceConnection) NotifyTrace(evt core.TraceEvent) {
	frame := TraceFrame{
		Document:     evt.Document,
		OverridesKey: evt.OverridesKey,
		Version:      evt.Version,
		Status:       evt.Status.String(),
		SentAt:       time.Now(),
	}

	select {
	case c.outbox <- frame:
	default:
		select {
		case <-c.outbox:
		default:
		}
		select {
		case c.outbox <- frame:
		default:
		}
	}
}

// Run drains the outbox onto the websocket connection until Close is
// called or the write side fails. Call it from its own goroutine.
func (c *TraceConnection) Run() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("watchtransport: marshal trace frame failed", "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Info("watchtransport: trace write failed, closing", "err", err)
				return
			}
		}
	}
}

// Close stops Run and closes the underlying connection.
func (c *TraceConnection) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}
