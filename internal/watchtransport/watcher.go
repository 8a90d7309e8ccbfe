// Package watchtransport gives a long-lived watch request a concrete
// transport: a websocket connection that receives one JSON frame per
// notified version. core.Watcher itself is transport-agnostic (spec §3,
// §6); this is the one implementation SPEC_FULL wires up end to end.
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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboxCapacity bounds how many undelivered notifications a slow client
// can queue before NotifyUpdate starts dropping the oldest one; watchers
// only ever care about the latest version anyway (spec §3 "Watcher").
const outboxCapacity = 8

// Frame is the JSON payload pushed to a websocket client on each
// notification.
type Frame struct {
	Document     string    `json:"document"`
	OverridesKey string    `json:"overrides_key"`
	Version      uint32    `json:"version"`
	Closed       bool      `json:"closed,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// Connection adapts a gorilla/websocket connection into a core.Watcher.
// NotifyUpdate never blocks: it drops the oldest queued frame rather than
// stall the scheduler/worker pipeline on a slow reader.
type Connection struct {
	id     string
	conn   *websocket.Conn
	log    *slog.Logger
	outbox chan Frame
	done   chan struct{}

	// keepalive pins the WatcherHandle backing this connection's weak
	// registration in every namespace it watches, satisfying
	// core.KeepaliveSink: as long as the connection itself is reachable
	// (its Run goroutine holds it), the namespace's WeakWatcher keeps
	// resolving; once the connection is dropped, it collects naturally.
	keepalive *core.WatcherHandle
}

// Upgrade promotes an HTTP request to a websocket connection and returns
// a Connection ready to register as a core.Watcher. Callers must call
// Run in its own goroutine to start draining notifications onto the
// wire, and Close when the client disconnects.
func Upgrade(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*Connection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &Connection{
		id:     id,
		conn:   conn,
		log:    log.With("component", "watchtransport", "connection_id", id),
		outbox: make(chan Frame, outboxCapacity),
		done:   make(chan struct{}),
	}, nil
}

// ID satisfies core.Watcher.
func (c *Connection) ID() string { return c.id }

// Pin satisfies core.KeepaliveSink.
func (c *Connection) Pin(handle *core.WatcherHandle) {
	c.keepalive = handle
}

// NotifyUpdate satisfies core.Watcher. A nil mc (spec §4.F property #7:
// the watcher was unregistered) sends a closing frame instead of a value.
func (c *Connection) NotifyUpdate(mc *core.MergedConfig) {
	var frame Frame
	if mc == nil {
		frame = Frame{Closed: true, SentAt: time.Now()}
	} else {
		frame = Frame{
			Document:     mc.Document,
			OverridesKey: mc.OverridesKey,
			Version:      mc.Version,
			SentAt:       time.Now(),
		}
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
func (c *Connection) Run() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("watchtransport: marshal frame failed", "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Info("watchtransport: write failed, closing", "err", err)
				return
			}
			if frame.Closed {
				return
			}
		}
	}
}

// Close stops Run and closes the underlying connection.
func (c *Connection) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}
