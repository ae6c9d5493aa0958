package record

import (
	"errors"
	"io"
	"net"

	"github.com/arashilabs/fcgid/internal/ferrors"
	"github.com/arashilabs/fcgid/internal/queue"
)

// Encoder writes records to a duplex byte stream, reusing one framing
// buffer across calls.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, HeaderLen+MaxContentLength),
	}
}

// Reset rebinds the encoder to w. Used between keep-alive requests.
func (e *Encoder) Reset(w io.Writer) {
	e.w = w
}

func (e *Encoder) writeRecord(typ Type, requestID uint16, content []byte) error {
	if len(content) > MaxContentLength {
		return ferrors.New(ferrors.KindProtocol, "content exceeds maximum record length")
	}

	h := Header{
		Version:       1,
		Type:          typ,
		RequestID:     requestID,
		ContentLength: uint16(len(content)),
		PaddingLength: 0,
		Reserved:      0,
	}
	h.encode(e.buf[:HeaderLen])
	copy(e.buf[HeaderLen:], content)

	n := HeaderLen + len(content)
	if _, err := e.w.Write(e.buf[:n]); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}

// EmitStdout drains up to 65535 bytes from source and writes one STDOUT
// record (header + content, zero padding), returning the number of bytes
// consumed. Passing an empty source produces the zero-length end-of-stream
// marker.
func (e *Encoder) EmitStdout(requestID uint16, source *queue.Queue) (int, error) {
	n := source.Len()
	if n > MaxContentLength {
		n = MaxContentLength
	}
	content := e.buf[HeaderLen : HeaderLen+n]
	consumed := source.Read(n, content, 0)

	if err := e.writeRecord(Stdout, requestID, content[:consumed]); err != nil {
		return 0, err
	}
	return consumed, nil
}

// EmitEndRequest emits the 8-byte content record that closes a request.
func (e *Encoder) EmitEndRequest(requestID uint16, appStatus uint32, protocolStatus ProtocolStatus) error {
	return e.writeRecord(EndRequest, requestID, EndRequestBody(appStatus, protocolStatus))
}

// EmitBeginRequest emits a BEGIN_REQUEST record; used only by tests that
// play the peer side of the protocol.
func (e *Encoder) EmitBeginRequest(requestID uint16, role Role, keepConn bool) error {
	return e.writeRecord(BeginRequest, requestID, BeginRequestBody(role, keepConn))
}

// EmitParams emits a PARAMS record carrying the given pre-encoded
// name-value pair content (pass nil for the terminating empty record).
func (e *Encoder) EmitParams(requestID uint16, content []byte) error {
	return e.writeRecord(Params, requestID, content)
}

// EmitStdin emits a STDIN record (pass nil for the terminating empty
// record); used only by tests that play the peer side of the protocol.
func (e *Encoder) EmitStdin(requestID uint16, content []byte) error {
	return e.writeRecord(Stdin, requestID, content)
}

// EmitAbortRequest emits an ABORT_REQUEST record; used only by tests that
// play the peer side of the protocol.
func (e *Encoder) EmitAbortRequest(requestID uint16) error {
	return e.writeRecord(AbortRequest, requestID, nil)
}

func wrapWriteErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ferrors.Wrap(ferrors.KindIOTimeout, "write timed out", err)
	}
	return ferrors.Wrap(ferrors.KindIO, "write failed", err)
}
