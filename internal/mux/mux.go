// Package mux multiplexes concurrent SQL operations over one session channel.
// Every operation gets a fresh execution id; a pending wait is a registered
// message listener whose predicate validates the expected message kind and
// matches the id, plus a completion channel settled exactly once. Frames that
// do not validate or belong to another operation are ignored, so any number of
// operations can interleave on the same channel and complete in any order.
package mux

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/wherobots/wherobots-sql-go/internal/channel"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/protocol"
	"github.com/wherobots/wherobots-sql-go/internal/results"
	"github.com/wherobots/wherobots-sql-go/logger"
)

type Mux struct {
	conn           *channel.Conn
	geometry       string
	supportsCancel bool
}

// New wires a multiplexer onto an open channel. The multiplexer only sends and
// registers listeners; it never closes or replaces the channel.
func New(conn *channel.Conn, protocolVersion, geometry string) *Mux {
	return &Mux{
		conn:           conn,
		geometry:       geometry,
		supportsCancel: protocol.SupportsCancellation(protocolVersion),
	}
}

// Execute runs one statement through the two round-trip protocol: submit and
// await the succeeded state update, then request and await the result payload.
// Cancellation of ctx rejects the active wait with an aborted error and, when
// the protocol version allows it, fires a best-effort cancel notice. The
// channel stays open either way.
func (m *Mux) Execute(ctx context.Context, statement, geometryOverride string) (*results.Table, error) {
	executionID := uuid.NewString()
	geometry := m.geometry
	if geometryOverride != "" {
		geometry = geometryOverride
	}

	logger.Debug().Msgf("executing statement under execution id %s", executionID)

	submit, err := json.Marshal(protocol.NewExecuteSQLRequest(executionID, statement))
	if err != nil {
		return nil, wberrors.WrapErr(err, "failed to encode execute_sql message")
	}
	_, err = await(ctx, m, executionID, submit, func(f protocol.Frame) (protocol.StateUpdated, bool) {
		s, ok := protocol.ParseStateUpdated(f)
		return s, ok && s.ExecutionID == executionID && s.State == protocol.StateSucceeded
	})
	if err != nil {
		return nil, err
	}

	retrieve, err := json.Marshal(protocol.NewRetrieveResultsRequest(executionID, geometry))
	if err != nil {
		return nil, wberrors.WrapErr(err, "failed to encode retrieve_results message")
	}
	res, err := await(ctx, m, executionID, retrieve, func(f protocol.Frame) (protocol.ExecutionResult, bool) {
		r, ok := protocol.ParseExecutionResult(f)
		return r, ok && r.ExecutionID == executionID
	})
	if err != nil {
		return nil, err
	}

	return results.Decode(res.Results)
}

// await registers a pending wait for executionID, sends the outbound message
// and blocks until the first authoritative signal: a frame matching the
// predicate, a dedicated error frame for the id, a channel failure, or
// cancellation. All listeners are deregistered on the way out, settlement
// happens at most once.
func await[T any](ctx context.Context, m *Mux, executionID string, outbound []byte, match func(protocol.Frame) (T, bool)) (T, error) {
	var zero T
	type outcome struct {
		val T
		err error
	}
	settled := make(chan outcome, 1)
	var once sync.Once
	settle := func(v T, err error) {
		once.Do(func() { settled <- outcome{val: v, err: err} })
	}

	msgID := m.conn.OnMessage(func(f protocol.Frame) {
		// a validated error event for this id always wins, even if a matching
		// result arrives later
		if em, ok := protocol.ParseError(f); ok && em.ExecutionID == executionID {
			settle(zero, wberrors.NewExecutionError(executionID, em.Message))
			return
		}
		if v, ok := match(f); ok {
			settle(v, nil)
		}
	})
	defer m.conn.Remove(msgID)

	errID := m.conn.OnError(func(err error) {
		settle(zero, wberrors.NewChannelError("channel failed while awaiting response", err))
	})
	defer m.conn.Remove(errID)

	closeID := m.conn.OnClose(func(err error) {
		settle(zero, wberrors.NewChannelError("channel closed while awaiting response", err))
	})
	defer m.conn.Remove(closeID)

	if err := m.conn.SendText(outbound); err != nil {
		return zero, err
	}

	select {
	case o := <-settled:
		return o.val, o.err
	case <-ctx.Done():
		m.notifyCancel(executionID)
		return zero, wberrors.NewAbortedError("operation aborted", ctx.Err())
	}
}

// notifyCancel sends a fire-and-forget cancel notice when the negotiated
// protocol version supports it. Delivery is not awaited and failures are only
// logged; cancellation must not depend on the server hearing about it.
func (m *Mux) notifyCancel(executionID string) {
	if !m.supportsCancel {
		return
	}
	payload, err := json.Marshal(protocol.NewCancelRequest(executionID))
	if err != nil {
		return
	}
	if err := m.conn.SendText(payload); err != nil {
		logger.Debug().Err(err).Msgf("could not send cancel notice for execution id %s", executionID)
	}
}
