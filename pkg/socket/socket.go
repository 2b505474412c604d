// Package socket provides opaque, single-use handles over WebSocket
// or WebTransport connections, wiring an underlying connection's
// message events to the stream abstraction of pkg/stream.
package socket

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/webos-run/webos/pkg/stream"
)

// Type distinguishes which constructor produced a Handle.
type Type int

const (
	TypeWebSocket Type = iota
	TypeWebTransport
)

func (t Type) String() string {
	if t == TypeWebTransport {
		return "webtransport"
	}
	return "websocket"
}

// Handle is an opaque socket reference: the connection, a Close
// method, and a type tag. It is single-use; once closed it cannot be
// reopened, and no retry/backoff is attempted.
type Handle struct {
	id   string
	kind Type
	conn *websocket.Conn

	out *stream.Writable // write end of in: the read loop writes here, Close closes it
	in  *stream.Readable // incoming: message events arrive here

	closed bool
}

// ID uniquely identifies this connection for logging/routing.
func (h *Handle) ID() string { return h.id }

// Type reports whether this handle is a WebSocket or WebTransport
// connection.
func (h *Handle) Type() Type { return h.kind }

// Incoming returns the readable stream of messages received from the
// peer; consumers (e.g. nc) pump this into their stdout.
func (h *Handle) Incoming() *stream.Readable { return h.in }

// Send writes p as a single message to the peer.
func (h *Handle) Send(ctx context.Context, p []byte) error {
	if h.closed {
		return fmt.Errorf("socket: send on closed handle")
	}
	return h.conn.Write(ctx, websocket.MessageText, p)
}

// Close terminates the connection. Idempotent.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.out.Close()
	err := h.conn.Close(websocket.StatusNormalClosure, "closing")
	if err != nil && err.Error() == "already wrote close" {
		return nil
	}
	return err
}

// CreateWebSocket dials url and returns a single-use Handle whose
// Incoming stream receives every text/binary message the peer sends,
// until Close or the connection drops.
func CreateWebSocket(ctx context.Context, url string) (*Handle, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", url, err)
	}
	return newHandle(ctx, TypeWebSocket, conn), nil
}

// CreateWebTransport dials url as a WebTransport-tagged connection.
// The transport library (coder/websocket) does not implement the
// WebTransport/QUIC protocol, so these handles are currently backed by
// the same WebSocket transport as CreateWebSocket; callers see an
// identical Handle contract (type tag, close, incoming stream).
func CreateWebTransport(ctx context.Context, url string) (*Handle, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", url, err)
	}
	return newHandle(ctx, TypeWebTransport, conn), nil
}

func newHandle(ctx context.Context, kind Type, conn *websocket.Conn) *Handle {
	w, r := stream.Pipe(64)
	h := &Handle{id: uuid.NewString(), kind: kind, conn: conn, out: w, in: r}

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				w.Close()
				return
			}
			w.Lock()
			w.Write(data)
			w.Unlock()
		}
	}()

	return h
}
