package wherobots

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/wherobots/wherobots-sql-go/internal/channel"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/mux"
	"github.com/wherobots/wherobots-sql-go/internal/protocol"
	"github.com/wherobots/wherobots-sql-go/internal/session"
	"github.com/wherobots/wherobots-sql-go/logger"
)

// Connection is an established session: provisioned over HTTP, upgraded to the
// persistent channel and ready to execute statements. A Connection moves
// strictly forward through its lifecycle; once closed it can only fail fast.
type Connection struct {
	cfg       *config
	sessionID string

	ch  *channel.Conn
	mux *mux.Mux

	// sessionCtx is the connection-scoped cancellation signal. Closing the
	// connection cancels it, which rejects every pending operation.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	listeners []channel.ListenerID
}

var _ io.Closer = (*Connection)(nil)

// Connect provisions a session and upgrades it to a ready Connection:
// create the session, poll until READY, derive the channel address from the
// session's application URL and open the channel. Any failure along the way
// tears down whatever was established and is returned to the caller.
func Connect(ctx context.Context, opts ...Option) (*Connection, error) {
	cfg := newConfigWithDefaults()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}

	client := session.NewClient(cfg.baseURL(), cfg.APIKey, cfg.Region, userAgent(), nil)
	client.RequestTimeout = cfg.RequestTimeout
	client.Backoff = cfg.retryBackoff

	sess, err := client.Provision(ctx, string(cfg.Runtime))
	if err != nil {
		return nil, err
	}
	logger.Info().Msgf("session %s is ready", sess.ID)

	wsURL, err := protocol.WebsocketURL(sess.AppMeta.URL, cfg.ProtocolVersion)
	if err != nil {
		return nil, wberrors.NewProtocolError("invalid session channel address", err)
	}

	header := http.Header{}
	header.Set("X-API-Key", cfg.APIKey)
	header.Set("User-Agent", userAgent())
	ch, err := channel.Dialer{Backoff: cfg.retryBackoff}.Dial(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:           cfg,
		sessionID:     sess.ID,
		ch:            ch,
		mux:           mux.New(ch, cfg.ProtocolVersion, string(cfg.Geometry)),
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}

	// a channel-level failure is fatal to the whole session
	errID := ch.OnError(func(err error) {
		logger.Error().Err(err).Msgf("channel error on session %s, tearing down connection", c.sessionID)
		_ = c.Close()
	})
	closeID := ch.OnClose(func(err error) {
		logger.Error().Err(err).Msgf("channel closed unexpectedly on session %s, tearing down connection", c.sessionID)
		_ = c.Close()
	})
	c.listeners = append(c.listeners, errID, closeID)

	return c, nil
}

// ExecuteOption adjusts one statement execution.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	geometry string
}

// WithStatementGeometry overrides the connection's geometry representation for
// a single statement.
func WithStatementGeometry(g GeometryRepresentation) ExecuteOption {
	return func(o *executeOptions) { o.geometry = string(g) }
}

// Execute runs a SQL statement and returns its decoded tabular result.
// Concurrent calls share the channel and may complete in any order; each
// operation is correlated independently. Cancelling ctx aborts only this
// statement and leaves the connection usable.
func (c *Connection) Execute(ctx context.Context, statement string, opts ...ExecuteOption) (*Results, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, wberrors.NewChannelError(wberrors.ErrConnectionClosed, nil)
	}
	m := c.mux
	c.mu.Unlock()

	var execOpts executeOptions
	for _, opt := range opts {
		opt(&execOpts)
	}

	// reject the wait as soon as either the caller's context or the
	// connection-scoped signal fires
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.sessionCtx.Done():
			cancel()
		case <-execCtx.Done():
		}
	}()

	table, err := m.Execute(execCtx, statement, execOpts.geometry)
	if err != nil {
		return nil, err
	}
	return &Results{
		Columns:    table.Columns,
		Rows:       table.Rows,
		Geometry:   GeometryRepresentation(table.Geometry),
		GeoColumns: table.GeoColumns,
	}, nil
}

// Close releases the connection: it cancels the connection-scoped signal so
// every pending operation rejects, removes all tracked channel listeners and
// closes the channel. Idempotent; after Close every Execute fails fast without
// touching the network.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := c.listeners
	c.listeners = nil
	ch := c.ch
	c.ch = nil
	c.mux = nil
	c.mu.Unlock()

	c.sessionCancel()
	for _, id := range listeners {
		ch.Remove(id)
	}
	logger.Debug().Msgf("closing connection for session %s", c.sessionID)
	return ch.Close()
}
