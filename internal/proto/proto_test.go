package proto

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/arashilabs/fcgid/internal/ferrors"
	"github.com/arashilabs/fcgid/internal/queue"
	"github.com/arashilabs/fcgid/internal/record"
)

// peer plays the web-server side of the protocol over a net.Pipe for tests.
type peer struct {
	enc *record.Encoder
	dec *record.Decoder
}

func newPeer(conn net.Conn) *peer {
	return &peer{enc: record.NewEncoder(conn), dec: record.NewDecoder(conn)}
}

func (p *peer) sendMinimalGet(requestID uint16, keepConn bool, params map[string]string) {
	p.enc.EmitBeginRequest(requestID, record.Responder, keepConn)
	p.enc.EmitParams(requestID, queue.EncodeNameValuePairs(params))
	p.enc.EmitParams(requestID, nil)
	p.enc.EmitStdin(requestID, nil)
}

func TestInputAssemblesMinimalGet(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p := newPeer(clientConn)
		p.sendMinimalGet(1, false, map[string]string{"REQUEST_METHOD": "GET"})
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 0)
	if err := in.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if in.RequestID != 1 {
		t.Errorf("expected request id 1, got %d", in.RequestID)
	}
	if in.KeepConn {
		t.Errorf("expected keep-conn false")
	}
	method, err := in.Parameter("REQUEST_METHOD")
	if err != nil || method != "GET" {
		t.Fatalf("expected REQUEST_METHOD=GET, got %q err=%v", method, err)
	}

	content, err := in.GetContent()
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty body, got %q", content)
	}

	<-done
}

func TestInputAssemblesPostBodyFromFragmentedStdin(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p := newPeer(clientConn)
		p.enc.EmitBeginRequest(7, record.Responder, true)
		p.enc.EmitParams(7, queue.EncodeNameValuePairs(map[string]string{
			"REQUEST_METHOD": "POST",
			"CONTENT_LENGTH": "5",
		}))
		p.enc.EmitParams(7, nil)
		p.enc.EmitStdin(7, []byte("he"))
		p.enc.EmitStdin(7, []byte("ll"))
		p.enc.EmitStdin(7, []byte("o"))
		p.enc.EmitStdin(7, nil)
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 0)
	if err := in.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !in.KeepConn {
		t.Errorf("expected keep-conn true")
	}

	content, err := in.GetContent()
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if content != "hello" {
		t.Fatalf("expected 'hello', got %q", content)
	}

	<-done
}

func TestInputMissingParameter(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		p := newPeer(clientConn)
		p.sendMinimalGet(1, false, map[string]string{"REQUEST_METHOD": "GET"})
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 0)
	if err := in.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := in.Parameter("SCRIPT_FILENAME"); err != ErrParamNotFound {
		t.Fatalf("expected ErrParamNotFound, got %v", err)
	}
}

func TestInputHeaderTooLarge(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		p := newPeer(clientConn)
		p.enc.EmitBeginRequest(1, record.Responder, false)
		big := queue.EncodeNameValuePairs(map[string]string{"X": string(make([]byte, 100))})
		p.enc.EmitParams(1, big)
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 50) // cap smaller than the payload
	err := in.Initialize()
	ce := asClientError(t, err)
	if ce.Kind.String() != "header too large" {
		t.Fatalf("expected header too large, got %v", ce.Kind)
	}
}

func TestInputUnknownRole(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		p := newPeer(clientConn)
		p.enc.EmitBeginRequest(1, record.Authorizer, false)
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 0)
	if err := in.Initialize(); err != ErrUnknownRole {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestOutputMinimalGetResponse(t *testing.T) {
	var buf bytes.Buffer
	enc := record.NewEncoder(&buf)
	out := NewOutput(enc, 1, nil)
	out.SetStatus(200)
	if err := out.Write("ok"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	dec := record.NewDecoder(&buf)
	frame1, err := dec.Next()
	if err != nil {
		t.Fatalf("decode frame 1: %v", err)
	}
	if frame1.Type != record.Stdout || len(frame1.Content) == 0 {
		t.Fatalf("expected non-empty STDOUT frame, got %+v", frame1.Header)
	}
	body := string(frame1.Content)
	if !bytes.HasPrefix([]byte(body), []byte("HTTP/1.1 200 OK\r\n")) {
		t.Fatalf("expected status line prefix, got %q", body[:min(40, len(body))])
	}
	if !bytes.Contains([]byte(body), []byte("ok")) {
		t.Fatalf("expected body to contain 'ok', got %q", body)
	}

	frame2, err := dec.Next()
	if err != nil {
		t.Fatalf("decode frame 2: %v", err)
	}
	if frame2.Type != record.Stdout || len(frame2.Content) != 0 {
		t.Fatalf("expected zero-length STDOUT terminator, got %+v", frame2.Header)
	}

	frame3, err := dec.Next()
	if err != nil {
		t.Fatalf("decode frame 3: %v", err)
	}
	if frame3.Type != record.EndRequest {
		t.Fatalf("expected END_REQUEST, got %v", frame3.Type)
	}
}

func TestOutputHeadersSentOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	enc := record.NewEncoder(&buf)
	out := NewOutput(enc, 1, nil)
	out.SetStatus(201)
	if err := out.Write("a"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out.SetStatus(404) // must be ignored, headers already sent
	out.SetHeader("X-Test", "ignored")
	if err := out.Write("b"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	dec := record.NewDecoder(&buf)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if !bytes.HasPrefix(frame.Content, []byte("HTTP/1.1 201 Created\r\n")) {
		t.Fatalf("expected 201 status line, got %q", frame.Content)
	}
	if bytes.Contains(frame.Content, []byte("X-Test")) {
		t.Fatalf("header set after headers sent must be ignored")
	}
}

func TestOutputDrainsStdinBeforeFirstFlush(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sent := make(chan struct{})
	go func() {
		p := newPeer(clientConn)
		p.enc.EmitBeginRequest(1, record.Responder, false)
		p.enc.EmitParams(1, queue.EncodeNameValuePairs(map[string]string{"REQUEST_METHOD": "POST"}))
		p.enc.EmitParams(1, nil)
		// Body arrives slowly/late; Output.End must still drain it before
		// the peer would be willing to read a response.
		time.Sleep(5 * time.Millisecond)
		p.enc.EmitStdin(1, []byte("body"))
		p.enc.EmitStdin(1, nil)
		close(sent)
	}()

	dec := record.NewDecoder(serverConn)
	in := NewInput(dec, 0)
	if err := in.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var outBuf bytes.Buffer
	enc := record.NewEncoder(&outBuf)
	out := NewOutput(enc, 1, in)
	out.SetStatus(200)
	if err := out.Write("early response, before reading stdin"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	<-sent
	if !in.StdinComplete() {
		t.Fatalf("expected stdin to have been drained before End completed")
	}
}

func asClientError(t *testing.T, err error) *ferrors.ClientError {
	t.Helper()
	ce, ok := err.(*ferrors.ClientError)
	if !ok {
		t.Fatalf("expected *ferrors.ClientError, got %T: %v", err, err)
	}
	return ce
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
