// Package channel wraps the persistent duplex connection a ready session is
// upgraded to. A Conn owns one websocket plus a listener registry; a single
// read pump fans every inbound frame out to the registered message listeners,
// and channel-level failures fan out to the error and close listeners. The
// Conn never interprets frames; that is the multiplexer's job.
package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	wberr "github.com/wherobots/wherobots-sql-go/errors"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/protocol"
	"github.com/wherobots/wherobots-sql-go/internal/retry"
	"github.com/wherobots/wherobots-sql-go/logger"
)

const (
	// extra dial attempts allowed on connection-level failures
	maxDialRetries = 3

	handshakeTimeout = 30 * time.Second
)

// ListenerID identifies one registration so it can be removed exactly once.
// Removal of an unknown or already-removed id is a no-op.
type ListenerID int64

type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu             sync.Mutex
	nextID         ListenerID
	msgListeners   map[ListenerID]func(protocol.Frame)
	errListeners   map[ListenerID]func(error)
	closeListeners map[ListenerID]func(error)
	closed         bool
}

// Dialer opens channels with connection-level resiliency. Backoff is
// overridable for tests; nil keeps the engine default.
type Dialer struct {
	Backoff func(attempt int) time.Duration
}

// Dial opens the channel at wsURL, retrying connection failures up to the
// budget. Cancellation of ctx is never retried. Compression negotiation is
// disabled. The returned Conn is live: its read pump is already running.
func (d Dialer) Dial(ctx context.Context, wsURL string, header http.Header) (*Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: false,
	}

	conn, err := retry.Run(ctx, func(ctx context.Context) (*Conn, error) {
		ws, resp, err := dialer.DialContext(ctx, wsURL, header)
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, wberrors.NewAbortedError("channel dial aborted", ctx.Err())
			}
			return nil, wberrors.NewChannelError("channel dial failed", err)
		}
		return newConn(ws), nil
	}, retry.Options[*Conn]{
		Backoff: d.Backoff,
		ShouldRetry: func(attempt int, _ *Conn, err error) (bool, error) {
			if err == nil {
				return false, nil
			}
			return attempt < maxDialRetries && !isAborted(err), nil
		},
	})
	if err != nil {
		return nil, wberrors.WrapErr(err, wberrors.ErrChannelDial)
	}
	return conn, nil
}

// aborted errors reject immediately; everything else on dial is a
// connection-class failure and stays retryable
func isAborted(err error) bool {
	return errors.Is(err, wberr.OperationAborted)
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:             ws,
		msgListeners:   map[ListenerID]func(protocol.Frame){},
		errListeners:   map[ListenerID]func(error){},
		closeListeners: map[ListenerID]func(error){},
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.dispatchFailure(err)
			return
		}
		frame := protocol.Frame{Binary: msgType == websocket.BinaryMessage, Data: data}
		c.mu.Lock()
		listeners := make([]func(protocol.Frame), 0, len(c.msgListeners))
		for _, fn := range c.msgListeners {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(frame)
		}
	}
}

// dispatchFailure routes a read failure to the right listener class: close
// frames and abnormal closures to close listeners, everything else to error
// listeners. A failure after a local Close() is expected and dispatched to
// nobody.
func (c *Conn) dispatchFailure(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var listeners []func(error)
	if _, isClose := err.(*websocket.CloseError); isClose {
		for _, fn := range c.closeListeners {
			listeners = append(listeners, fn)
		}
	} else {
		for _, fn := range c.errListeners {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	logger.Warn().Err(err).Msg("session channel failed")
	for _, fn := range listeners {
		fn(err)
	}
}

// SendText writes one JSON text frame. Sends from concurrent operations are
// serialized on a write lock; each frame carries its own correlation id so no
// further ordering is needed.
func (c *Conn) SendText(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return wberrors.NewChannelError(wberrors.ErrChannelClosed, nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return wberrors.NewChannelError("channel send failed", err)
	}
	return nil
}

func (c *Conn) OnMessage(fn func(protocol.Frame)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.msgListeners[c.nextID] = fn
	return c.nextID
}

func (c *Conn) OnError(fn func(error)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.errListeners[c.nextID] = fn
	return c.nextID
}

func (c *Conn) OnClose(fn func(error)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.closeListeners[c.nextID] = fn
	return c.nextID
}

// Remove deregisters a listener. Safe to call more than once per id.
func (c *Conn) Remove(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.msgListeners, id)
	delete(c.errListeners, id)
	delete(c.closeListeners, id)
}

// ListenerCount returns the number of currently registered listeners across
// all classes.
func (c *Conn) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgListeners) + len(c.errListeners) + len(c.closeListeners)
}

// Close shuts the websocket down. Idempotent; a close initiated here is not
// reported to close listeners.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
