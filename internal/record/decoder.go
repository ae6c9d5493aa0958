package record

import (
	"errors"
	"io"
	"net"

	"github.com/arashilabs/fcgid/internal/ferrors"
)

// Decoder reassembles frames from a duplex byte stream. One Decoder may be
// reused across successive reads on the same connection: it retains a
// rolling buffer across frame boundaries and slides trailing bytes to the
// buffer start after each decoded frame, so feeding a stream byte-by-byte
// or all at once yields the same sequence of frames.
type Decoder struct {
	r   io.Reader
	buf []byte
	n   int
}

// NewDecoder returns a Decoder reading from r, with its internal buffer
// sized to hold one maximal frame (header + max content + max padding).
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, HeaderLen+MaxContentLength+MaxPadding),
	}
}

// Reset rebinds the decoder to r, used between keep-alive requests on the
// same connection. It only drops already-buffered bytes when r is a
// different reader than before: the caller typically passes back the same
// connection it was already reading from, and the peer is free to
// coalesce the next request's BEGIN_REQUEST bytes into the same TCP
// segment as the end of the previous request (or simply not wait for
// END_REQUEST before sending more). Unconditionally zeroing the buffer
// would silently discard those already-read bytes and desync the
// connection, violating the same byte-by-byte-vs-all-at-once invariant
// the framer otherwise upholds (spec.md §8 invariant 1).
func (d *Decoder) Reset(r io.Reader) {
	if r != d.r {
		d.n = 0
	}
	d.r = r
}

// Next blocks until one full frame has been read, or returns a
// *ferrors.ClientError describing why it could not.
func (d *Decoder) Next() (*Frame, error) {
	if err := d.fill(HeaderLen, true); err != nil {
		return nil, err
	}

	hdr := decodeHeader(d.buf[:HeaderLen])
	total := HeaderLen + int(hdr.ContentLength) + int(hdr.PaddingLength)

	if err := d.fill(total, false); err != nil {
		return nil, err
	}

	content := make([]byte, hdr.ContentLength)
	copy(content, d.buf[HeaderLen:HeaderLen+int(hdr.ContentLength)])

	// Slide any bytes past this frame to the buffer start for the next call.
	copy(d.buf, d.buf[total:d.n])
	d.n -= total

	return &Frame{Header: hdr, Content: content}, nil
}

// fill reads until d.n >= want. cleanEOFOK marks the point at which a zero
// read with io.EOF and nothing buffered yet is a graceful PeerClosed rather
// than a Truncated mid-frame error.
func (d *Decoder) fill(want int, cleanEOFOK bool) error {
	for d.n < want {
		m, err := d.r.Read(d.buf[d.n:want])
		if m > 0 {
			d.n += m
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if cleanEOFOK && d.n == 0 {
					return ferrors.New(ferrors.KindPeerClosed, "connection closed")
				}
				return ferrors.New(ferrors.KindTruncated, "connection closed mid-frame")
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ferrors.Wrap(ferrors.KindIOTimeout, "read timed out", err)
			}
			return ferrors.Wrap(ferrors.KindIO, "read failed", err)
		}
		if m == 0 {
			// A reader that legitimately returns (0, nil) signals no
			// progress; treat as a closed peer to avoid spinning.
			return ferrors.New(ferrors.KindPeerClosed, "connection closed")
		}
	}
	return nil
}
