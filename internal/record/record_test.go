package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/arashilabs/fcgid/internal/queue"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	q := queue.New()
	q.Append([]byte("Hello, FastCGI!"))

	consumed, err := enc.EmitStdout(1, q)
	if err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}
	if consumed != len("Hello, FastCGI!") {
		t.Fatalf("expected to consume %d bytes, got %d", len("Hello, FastCGI!"), consumed)
	}

	dec := NewDecoder(&buf)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Type != Stdout {
		t.Errorf("expected type Stdout, got %v", frame.Type)
	}
	if frame.RequestID != 1 {
		t.Errorf("expected request ID 1, got %d", frame.RequestID)
	}
	if string(frame.Content) != "Hello, FastCGI!" {
		t.Errorf("unexpected content: %q", frame.Content)
	}
}

func TestBeginRequestBody(t *testing.T) {
	body := BeginRequestBody(Responder, true)
	if len(body) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(body))
	}

	frame := &Frame{Content: body}
	if frame.BeginRequestRole() != Responder {
		t.Errorf("expected role Responder, got %v", frame.BeginRequestRole())
	}
	if !frame.BeginRequestKeepConn() {
		t.Errorf("expected keep-conn flag set")
	}
}

func TestEndRequestBody(t *testing.T) {
	body := EndRequestBody(0, RequestComplete)
	if len(body) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(body))
	}
	if ProtocolStatus(body[4]) != RequestComplete {
		t.Errorf("expected protocol status RequestComplete, got %d", body[4])
	}
}

func TestStdoutFrameHasNoPadding(t *testing.T) {
	cases := []int{0, 1, 7, 8, 9, 15, 16, 100}
	for _, contentLen := range cases {
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		q := queue.New()
		q.Append(make([]byte, contentLen))

		if _, err := enc.EmitStdout(1, q); err != nil {
			t.Fatalf("content length %d: EmitStdout failed: %v", contentLen, err)
		}

		// STDOUT emission writes zero padding by design (spec 4.2); the
		// frame is simply header + content with PaddingLength 0.
		if buf.Len() != HeaderLen+contentLen {
			t.Errorf("content length %d: expected total %d, got %d",
				contentLen, HeaderLen+contentLen, buf.Len())
		}
	}
}

func TestDecodeByteByByteMatchesAllAtOnce(t *testing.T) {
	var whole bytes.Buffer
	enc := NewEncoder(&whole)
	q := queue.New()
	q.Append([]byte("fragmented payload"))
	if _, err := enc.EmitStdout(42, q); err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}
	wireBytes := whole.Bytes()

	allAtOnce := NewDecoder(bytes.NewReader(wireBytes))
	frameA, err := allAtOnce.Next()
	if err != nil {
		t.Fatalf("all-at-once decode failed: %v", err)
	}

	byteAtATime := NewDecoder(iotest1ByteReader(bytes.NewReader(wireBytes)))
	frameB, err := byteAtATime.Next()
	if err != nil {
		t.Fatalf("byte-at-a-time decode failed: %v", err)
	}

	if frameA.Type != frameB.Type || frameA.RequestID != frameB.RequestID {
		t.Fatalf("frames disagree on header: %+v vs %+v", frameA.Header, frameB.Header)
	}
	if !bytes.Equal(frameA.Content, frameB.Content) {
		t.Fatalf("frames disagree on content: %q vs %q", frameA.Content, frameB.Content)
	}
}

func TestDecoderResetPreservesBuffer(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	q := queue.New()
	q.Append([]byte("first"))
	if _, err := enc.EmitStdout(1, q); err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}

	dec := NewDecoder(&buf)
	if _, err := dec.Next(); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	var buf2 bytes.Buffer
	enc2 := NewEncoder(&buf2)
	q2 := queue.New()
	q2.Append([]byte("second"))
	if _, err := enc2.EmitStdout(2, q2); err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}

	dec.Reset(&buf2)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next after reset failed: %v", err)
	}
	if string(frame.Content) != "second" {
		t.Fatalf("unexpected content after reset: %q", frame.Content)
	}
}

// TestDecoderResetOnSameReaderKeepsPipelinedBytes covers the keep-alive
// path: the worker calls Reset with the same connection it was already
// reading from, and the peer may have already sent the next request's
// bytes in the same TCP segment as the tail of the previous one. Reset
// must not discard those already-buffered bytes.
func TestDecoderResetOnSameReaderKeepsPipelinedBytes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	q1 := queue.New()
	q1.Append([]byte("first"))
	if _, err := enc.EmitStdout(1, q1); err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}
	q2 := queue.New()
	q2.Append([]byte("second"))
	if _, err := enc.EmitStdout(2, q2); err != nil {
		t.Fatalf("EmitStdout failed: %v", err)
	}

	dec := NewDecoder(&buf)
	if _, err := dec.Next(); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	dec.Reset(&buf) // same reader as NewDecoder was given

	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next after reset failed: %v", err)
	}
	if string(frame.Content) != "second" {
		t.Fatalf("Reset on the same reader discarded pipelined bytes: got %q", frame.Content)
	}
}

// oneByteReader forces Read to return at most one byte at a time, to
// exercise the decoder's incremental buffering.
type oneByteReader struct {
	r io.Reader
}

func iotest1ByteReader(r io.Reader) io.Reader {
	return &oneByteReader{r: r}
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}
