package proto

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arashilabs/fcgid/internal/queue"
	"github.com/arashilabs/fcgid/internal/record"
)

// Banner is the value of the default Server header.
const Banner = "fcgid"

type headerEntry struct {
	name  string
	value string
}

// Output builds the HTTP response prefix and the STDOUT record stream for
// one request, finalizing with END_REQUEST.
type Output struct {
	encoder   *record.Encoder
	input     *Input
	requestID uint16

	status      int
	headers     []headerEntry
	headerIndex map[string]int

	headersSent bool
	ended       bool

	buf *queue.Queue
}

// NewOutput returns an Output writing STDOUT/END_REQUEST records for
// requestID through enc. input, if non-nil, is drained before the first
// flush if the peer has not finished sending its request body yet (the
// spec's stdin back-pressure rule); pass nil when no such rule applies
// (e.g. in isolated encoder tests).
func NewOutput(enc *record.Encoder, requestID uint16, input *Input) *Output {
	o := &Output{
		encoder:     enc,
		input:       input,
		requestID:   requestID,
		status:      http.StatusOK,
		headerIndex: make(map[string]int),
		buf:         queue.New(),
	}
	o.SetHeader("Content-Type", "text/html; charset=utf-8")
	o.SetHeader("Cache-Control", "no-cache")
	o.SetHeader("Date", time.Now().UTC().Format(http.TimeFormat))
	o.SetHeader("Server", Banner)
	return o
}

// Reset rebinds Output to a fresh encoder/input pair and restores the
// default header set, reusing the backing ByteQueue's capacity. Used
// between keep-alive requests on the same connection.
func (o *Output) Reset(enc *record.Encoder, requestID uint16, input *Input) {
	o.encoder = enc
	o.input = input
	o.requestID = requestID
	o.status = http.StatusOK
	o.headers = o.headers[:0]
	for k := range o.headerIndex {
		delete(o.headerIndex, k)
	}
	o.headersSent = false
	o.ended = false
	o.buf.Reset()

	o.SetHeader("Content-Type", "text/html; charset=utf-8")
	o.SetHeader("Cache-Control", "no-cache")
	o.SetHeader("Date", time.Now().UTC().Format(http.TimeFormat))
	o.SetHeader("Server", Banner)
}

// SetStatus sets the HTTP status code. Permitted before the first Write;
// silently ignored once headers have been sent.
func (o *Output) SetStatus(code int) {
	if o.headersSent {
		return
	}
	o.status = code
}

// SetHeader sets a response header, last call wins. Permitted before the
// first Write; silently ignored once headers have been sent.
func (o *Output) SetHeader(name, value string) {
	if o.headersSent {
		return
	}
	if idx, ok := o.headerIndex[name]; ok {
		o.headers[idx].value = value
		return
	}
	o.headerIndex[name] = len(o.headers)
	o.headers = append(o.headers, headerEntry{name: name, value: value})
}

// Write UTF-8-encodes text and appends it to the response body.
func (o *Output) Write(text string) error {
	return o.WriteBinary([]byte(text))
}

// WriteBinary appends bytes to the response body. On first call it
// constructs and enqueues the HTTP status/header prefix ahead of the body.
func (o *Output) WriteBinary(b []byte) error {
	if err := o.ensureHeaders(); err != nil {
		return err
	}
	o.buf.Append(append([]byte(nil), b...))
	return o.flushFullChunks()
}

func (o *Output) ensureHeaders() error {
	if o.headersSent {
		return nil
	}
	o.buf.Append([]byte(o.buildPrefix()))
	o.headersSent = true
	return nil
}

func (o *Output) buildPrefix() string {
	var sb strings.Builder
	reason := reasonPhrase(o.status)
	if reason != "" {
		fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", o.status, reason)
	} else {
		fmt.Fprintf(&sb, "HTTP/1.1 %d\r\n", o.status)
	}
	for _, h := range o.headers {
		fmt.Fprintf(&sb, "%s: %s\r\n", h.name, h.value)
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// drainStdinIfNeeded implements the back-pressure rule: before flushing
// any STDOUT, if stdin is not yet fully read, drain and discard it first,
// since some peers refuse to read a response until they finish writing the
// request.
func (o *Output) drainStdinIfNeeded() error {
	if o.input == nil || o.input.StdinComplete() {
		return nil
	}
	return o.input.ReadAllAndDiscard()
}

func (o *Output) flushFullChunks() error {
	if o.buf.Len() < record.MaxContentLength {
		return nil
	}
	if err := o.drainStdinIfNeeded(); err != nil {
		return err
	}
	for o.buf.Len() >= record.MaxContentLength {
		if _, err := o.encoder.EmitStdout(o.requestID, o.buf); err != nil {
			return err
		}
	}
	return nil
}

// End flushes any remaining bytes, sends the zero-length STDOUT
// terminator, and emits END_REQUEST(app_status=0, REQUEST_COMPLETE). It is
// a no-op if already called.
func (o *Output) End() error {
	return o.endWithStatus(0, record.RequestComplete)
}

// endWithStatus is End with the END_REQUEST application and protocol
// statuses as parameters; End, and through it EndImplicit, passes 0 and
// REQUEST_COMPLETE.
func (o *Output) endWithStatus(appStatus uint32, protocolStatus record.ProtocolStatus) error {
	if o.ended {
		return nil
	}
	if err := o.drainStdinIfNeeded(); err != nil {
		return err
	}
	if err := o.ensureHeaders(); err != nil {
		return err
	}
	for o.buf.Len() > 0 {
		if _, err := o.encoder.EmitStdout(o.requestID, o.buf); err != nil {
			return err
		}
	}
	if _, err := o.encoder.EmitStdout(o.requestID, o.buf); err != nil { // zero-length terminator
		return err
	}
	if err := o.encoder.EmitEndRequest(o.requestID, appStatus, protocolStatus); err != nil {
		return err
	}
	o.ended = true
	return nil
}

// EndImplicit is called by the connection worker when the handler returns
// without calling End itself. If headers were never sent, the response
// becomes a bare 500 with an empty body; otherwise whatever was already
// written is flushed and the request is closed out normally.
func (o *Output) EndImplicit() error {
	if !o.headersSent {
		o.SetStatus(http.StatusInternalServerError)
	}
	return o.End()
}

// HeadersSent reports whether the HTTP prefix has already been emitted.
func (o *Output) HeadersSent() bool {
	return o.headersSent
}

// Ended reports whether End has already completed.
func (o *Output) Ended() bool {
	return o.ended
}
