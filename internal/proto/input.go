// Package proto implements the per-request InputSide and OutputSide state
// machines: InputSide assembles a request from BEGIN_REQUEST, PARAMS, and
// STDIN records and exposes parameters and stdin to the handler; OutputSide
// buffers the handler's response and emits it as STDOUT records followed by
// END_REQUEST.
package proto

import (
	"github.com/arashilabs/fcgid/internal/ferrors"
	"github.com/arashilabs/fcgid/internal/queue"
	"github.com/arashilabs/fcgid/internal/record"
)

type inputState int

const (
	stateExpectBegin inputState = iota
	stateExpectParams
	stateExpectStdin
	stateClosed
)

// DefaultMaxHeaderSize is the cap on accumulated PARAMS content used when
// Input is not otherwise configured.
const DefaultMaxHeaderSize = 16 * 1024

// ErrParamNotFound is returned by Input.Parameter for a missing key.
var ErrParamNotFound = ferrors.New(ferrors.KindProtocol, "parameter not found")

// Input drives the per-request record-consumption state machine and
// exposes the assembled parameters and stdin to the handler.
type Input struct {
	decoder       *record.Decoder
	maxHeaderSize int

	RequestID uint16
	Role      record.Role
	KeepConn  bool

	params     map[string]string
	paramAccum *queue.Queue

	stdin      *queue.Queue
	stdinDone  bool
	state      inputState

	onAbort func()
}

// NewInput returns an Input that reads records from dec. maxHeaderSize caps
// accumulated PARAMS content; pass 0 to use DefaultMaxHeaderSize.
func NewInput(dec *record.Decoder, maxHeaderSize int) *Input {
	if maxHeaderSize <= 0 {
		maxHeaderSize = DefaultMaxHeaderSize
	}
	return &Input{
		decoder:       dec,
		maxHeaderSize: maxHeaderSize,
		paramAccum:    queue.New(),
		stdin:         queue.New(),
		state:         stateExpectBegin,
	}
}

// Reset rebinds Input to a fresh decoder and clears all per-request state,
// reusing the backing ByteQueues' capacity. Used between keep-alive
// requests on the same connection.
func (in *Input) Reset(dec *record.Decoder) {
	in.decoder = dec
	in.RequestID = 0
	in.Role = 0
	in.KeepConn = false
	in.params = nil
	in.paramAccum.Reset()
	in.stdin.Reset()
	in.stdinDone = false
	in.state = stateExpectBegin
	in.onAbort = nil
}

// SetOnAbort registers fn to be called the moment an ABORT_REQUEST record
// is observed, in addition to handleFrame returning a KindAborted error.
// The worker uses this to cancel the per-request context.Context it hands
// to the Handler, so a handler that is blocked reading stdin (or that
// checks ctx.Err() between steps of its own work) learns about the abort
// without having to inspect every error Input returns. Pass nil to clear.
func (in *Input) SetOnAbort(fn func()) {
	in.onAbort = fn
}

// Initialize advances through Expect-Begin and Expect-Params until
// parameters are complete, so the handler can be invoked. It returns a
// *ferrors.ClientError of KindProtocol with the UnknownRole condition
// signalled via ErrUnknownRole (the caller must still emit
// END_REQUEST(UnknownRole) and close), or any other ClientError on
// malformed input.
func (in *Input) Initialize() error {
	for in.state == stateExpectBegin || in.state == stateExpectParams {
		frame, err := in.decoder.Next()
		if err != nil {
			return err
		}
		if err := in.handleFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// ErrUnknownRole signals that the peer requested a role other than
// Responder; the worker must reply END_REQUEST(UNKNOWN_ROLE) and close.
var ErrUnknownRole = ferrors.New(ferrors.KindProtocol, "unsupported role")

func (in *Input) handleFrame(frame *record.Frame) error {
	switch frame.Type {
	case record.BeginRequest:
		if in.state != stateExpectBegin {
			return ferrors.New(ferrors.KindProtocol, "unexpected BEGIN_REQUEST")
		}
		in.RequestID = frame.RequestID
		in.Role = frame.BeginRequestRole()
		in.KeepConn = frame.BeginRequestKeepConn()
		if in.Role != record.Responder {
			return ErrUnknownRole
		}
		in.state = stateExpectParams
		return nil

	case record.Params:
		if in.state != stateExpectParams {
			return in.rejectOutOfOrder(frame)
		}
		if len(frame.Content) == 0 {
			params, err := in.paramAccum.DecodeNameValuePairs()
			if err != nil {
				return ferrors.Wrap(ferrors.KindProtocol, "decoding PARAMS", err)
			}
			in.params = params
			in.state = stateExpectStdin
			return nil
		}
		if in.paramAccum.Len()+len(frame.Content) > in.maxHeaderSize {
			return ferrors.New(ferrors.KindHeaderTooLarge, "accumulated PARAMS exceeded configured maximum")
		}
		in.paramAccum.Append(frame.Content)
		return nil

	case record.Stdin:
		if in.state != stateExpectStdin {
			return in.rejectOutOfOrder(frame)
		}
		if len(frame.Content) == 0 {
			in.stdinDone = true
			in.state = stateClosed
			return nil
		}
		in.stdin.Append(frame.Content)
		return nil

	case record.AbortRequest:
		// No further STDIN follows an abort, so a later Output.End does not
		// wait for the body's terminating record.
		in.stdinDone = true
		in.state = stateClosed
		if in.onAbort != nil {
			in.onAbort()
		}
		return ferrors.New(ferrors.KindAborted, "peer sent ABORT_REQUEST")

	case record.GetValues:
		return ferrors.New(ferrors.KindUnsupportedManagement, "peer sent GET_VALUES")

	default:
		return in.rejectOutOfOrder(frame)
	}
}

func (in *Input) rejectOutOfOrder(frame *record.Frame) error {
	if frame.RequestID != in.RequestID && frame.RequestID != 0 {
		return ferrors.New(ferrors.KindProtocol, "unexpected request id")
	}
	return ferrors.New(ferrors.KindProtocol, "record out of sequence for current state")
}

// Parameter returns a single request parameter. Missing keys are reported
// through ErrParamNotFound rather than returned as an empty string.
func (in *Input) Parameter(name string) (string, error) {
	v, ok := in.params[name]
	if !ok {
		return "", ErrParamNotFound
	}
	return v, nil
}

// AllParameters returns the full decoded parameter map.
func (in *Input) AllParameters() map[string]string {
	return in.params
}

// drainStdin reads STDIN records until the terminating empty record,
// either buffering content (discard=false) or throwing it away
// (discard=true).
func (in *Input) drainStdin(discard bool) error {
	for !in.stdinDone {
		frame, err := in.decoder.Next()
		if err != nil {
			return err
		}
		if frame.Type == record.Stdin {
			if len(frame.Content) == 0 {
				in.stdinDone = true
				in.state = stateClosed
				continue
			}
			if !discard {
				in.stdin.Append(frame.Content)
			}
			continue
		}
		if err := in.handleFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// GetBinaryContent forces stdin to be drained to completion, then returns
// a contiguous copy of the accumulated body.
func (in *Input) GetBinaryContent() ([]byte, error) {
	if err := in.drainStdin(false); err != nil {
		return nil, err
	}
	return in.stdin.SnapshotCopy(), nil
}

// GetContent is GetBinaryContent decoded as UTF-8 text.
func (in *Input) GetContent() (string, error) {
	b, err := in.GetBinaryContent()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadAllAndDiscard drains stdin without buffering it; needed before
// writing a response early, since the peer will not accept a response
// until it has finished sending the request body.
func (in *Input) ReadAllAndDiscard() error {
	return in.drainStdin(true)
}

// StdinComplete reports whether the terminating empty STDIN record has
// already been observed.
func (in *Input) StdinComplete() bool {
	return in.stdinDone
}
