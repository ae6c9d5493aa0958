// Package worker implements the per-connection ConnectionWorker loop and
// the bounded-concurrency slot pool that rotates accepted connections
// through it.
package worker

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/arashilabs/fcgid/internal/ferrors"
	"github.com/arashilabs/fcgid/internal/observe"
	"github.com/arashilabs/fcgid/internal/proto"
	"github.com/arashilabs/fcgid/internal/record"
	"github.com/google/uuid"
)

// State is a connection slot's lifecycle state, reused directly from the
// teacher's atomic worker-state pattern (pkg/fpm/pool/worker.go), which
// modeled a PHP-FPM child process as Idle/Busy/Stopping; here it models one
// connection slot's occupancy instead.
type State int32

const (
	Idle State = iota
	Busy
	Stopping
)

// Slot is one of the server's pre-allocated connection slots. Its Run
// method owns exactly one live connection at a time and drives the
// per-connection loop in spec.md §4.5: construct Input/Output, run the
// handler, honor keep-alive, close cleanly.
type Slot struct {
	ID int

	Handler       proto.Handler
	ConnTimeout   time.Duration
	MaxHeaderSize int
	Observer      observe.Observer

	state atomic.Int32
}

// NewSlot returns an idle Slot.
func NewSlot(id int, handler proto.Handler, connTimeout time.Duration, maxHeaderSize int, obs observe.Observer) *Slot {
	if obs == nil {
		obs = observe.NoopObserver{}
	}
	return &Slot{
		ID:            id,
		Handler:       handler,
		ConnTimeout:   connTimeout,
		MaxHeaderSize: maxHeaderSize,
		Observer:      obs,
	}
}

// State reports the slot's current occupancy.
func (s *Slot) State() State {
	return State(s.state.Load())
}

// Run owns conn until the connection closes (either because the peer
// closed it, KEEP_CONN was unset, the request was aborted, the handler
// panicked, a protocol/IO error occurred, or ctx was cancelled between
// requests). It never returns an error: every failure is reported through
// the Observer and collapses only this connection.
//
// Each request handled on the connection gets its own child of ctx,
// cancelled when that request's ABORT_REQUEST arrives (via
// Input.SetOnAbort), when the connection's read/write deadline fires (via
// deadlineConn.setOnTimeout), or once END_REQUEST has been sent. The abort
// and the timeout are noticed only while Input or Output is reading or
// writing the connection; from then on the handler sees ctx.Err() set
// without having to inspect the error that call returned.
func (s *Slot) Run(ctx context.Context, conn net.Conn) {
	s.state.Store(int32(Busy))
	defer func() {
		conn.Close()
		s.state.Store(int32(Idle))
	}()

	connID := uuid.NewString()
	dconn := newDeadlineConn(conn, s.ConnTimeout)
	decoder := record.NewDecoder(dconn)
	encoder := record.NewEncoder(dconn)
	input := proto.NewInput(decoder, s.MaxHeaderSize)

	for {
		reqCtx, cancel := context.WithCancel(ctx)
		aborted := false
		input.SetOnAbort(func() {
			aborted = true
			cancel()
		})
		dconn.setOnTimeout(cancel)

		if err := input.Initialize(); err != nil {
			cancel()
			s.handleInitializeError(err, encoder, input, conn.RemoteAddr(), connID)
			return
		}

		output := proto.NewOutput(encoder, input.RequestID, input)
		handlerErr := s.runHandler(reqCtx, input, output)

		if !output.Ended() {
			if err := output.EndImplicit(); err != nil {
				cancel()
				s.Observer.OnConnectionError(connID, conn.RemoteAddr(), ferrors.Wrap(ferrors.KindHandlerFailed, "implicit end failed", err))
				return
			}
		}

		// END_REQUEST has gone out: the request's context is done regardless
		// of whether the handler or libcall stack observed it.
		cancel()

		if handlerErr != nil {
			s.Observer.OnConnectionError(connID, conn.RemoteAddr(), handlerErr)
			return
		}
		if !input.KeepConn || aborted {
			return
		}
		if ctx.Err() != nil {
			return
		}

		decoder.Reset(dconn)
		input.Reset(decoder)
	}
}

// runHandler invokes the handler with the request's own context (see Run),
// recovering a panic as a HandlerFailed error so a buggy handler cannot take
// down the whole process; Run reports it and closes the connection after
// END_REQUEST.
func (s *Slot) runHandler(ctx context.Context, input *proto.Input, output *proto.Output) (err error) {
	defer func() {
		if r := recover(); r != nil {
			output.SetStatus(500)
			err = ferrors.New(ferrors.KindHandlerFailed, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	s.Handler(ctx, input, output)
	return nil
}

// handleInitializeError handles the two distinct failure shapes
// Input.Initialize can surface: an unsupported role, which gets a proper
// END_REQUEST(UNKNOWN_ROLE) reply before closing, and everything else,
// which simply collapses the connection.
func (s *Slot) handleInitializeError(err error, encoder *record.Encoder, input *proto.Input, remote net.Addr, connID string) {
	if err == proto.ErrUnknownRole {
		_ = encoder.EmitEndRequest(input.RequestID, 0, record.UnknownRole)
		return
	}
	if ce, ok := err.(*ferrors.ClientError); ok && ce.Kind == ferrors.KindPeerClosed {
		return // graceful: peer simply closed the socket between requests
	}
	s.Observer.OnConnectionError(connID, remote, err)
}
