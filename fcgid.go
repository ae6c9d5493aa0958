// Package fcgid implements a FastCGI 1.0 responder-role connection engine:
// it speaks the FastCGI wire protocol over accepted connections and hands
// each request to a user-supplied Handler, while the caller's request
// handling logic (e.g. a PHP interpreter, a Go application router) stays
// entirely out of scope.
package fcgid

import (
	"github.com/arashilabs/fcgid/internal/ferrors"
	"github.com/arashilabs/fcgid/internal/proto"
)

// Input is the per-request reader passed to Handler: the request's
// parameters and its body.
type Input = proto.Input

// Output is the per-request response writer passed to Handler.
type Output = proto.Output

// Handler is the user-supplied request callback, aliased from
// internal/proto so the wire-level packages never import the root
// package (which would create an import cycle). One goroutine runs a
// Handler at a time per connection slot; a Handler may call out.Write
// repeatedly before returning, and need not call out.End itself.
type Handler = proto.Handler

// ErrParamNotFound is returned by Input.Parameter when the named
// FCGI_PARAMS entry was not sent by the web server.
var ErrParamNotFound = proto.ErrParamNotFound

// ErrUnknownRole is the ClientError of Kind KindProtocol returned when
// BEGIN_REQUEST names a role other than Responder.
var ErrUnknownRole = proto.ErrUnknownRole

// Kind classifies why a connection was abandoned. See the ferrors
// package for the full taxonomy; it is re-exported here so callers never
// need to import an internal package to inspect it.
type Kind = ferrors.Kind

const (
	KindProtocol              = ferrors.KindProtocol
	KindPeerClosed            = ferrors.KindPeerClosed
	KindTruncated             = ferrors.KindTruncated
	KindIOTimeout             = ferrors.KindIOTimeout
	KindIO                    = ferrors.KindIO
	KindHeaderTooLarge        = ferrors.KindHeaderTooLarge
	KindAborted               = ferrors.KindAborted
	KindUnsupportedManagement = ferrors.KindUnsupportedManagement
	KindHandlerFailed         = ferrors.KindHandlerFailed
)

// ClientError reports a connection-ending fault: a protocol violation,
// an I/O failure, or a timeout. Use errors.As to recover one from an
// Observer callback.
type ClientError = ferrors.ClientError
