package queue

import "encoding/binary"

// DecodeNameValuePairs drains the pending bytes and decodes them as FastCGI
// name-value pairs (as packed inside a PARAMS stream): each pair is
// nameLen, valueLen, name, value, where each length is either a single byte
// 0..127, or four bytes with the high bit of the first byte set and the
// remaining 31 bits giving the length, big-endian.
//
// Decoding never right-shifts a multi-byte length out of a single word; it
// always reads the three trailing length bytes from their own offsets, to
// avoid the classic big-endian/host-endian confusion this rule is prone to.
func (q *Queue) DecodeNameValuePairs() (map[string]string, error) {
	buf := q.SnapshotCopy()
	q.Reset()

	out := make(map[string]string)
	pos := 0
	for pos < len(buf) {
		nameLen, n, err := readLength(buf[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		valueLen, n, err := readLength(buf[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		if pos+nameLen+valueLen > len(buf) {
			return nil, ErrEncoding
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		value := string(buf[pos : pos+valueLen])
		pos += valueLen

		out[name] = value
	}
	return out, nil
}

// EncodeNameValuePairs packs a parameter map into the wire format consumed
// by DecodeNameValuePairs.
func EncodeNameValuePairs(pairs map[string]string) []byte {
	size := 0
	for k, v := range pairs {
		size += lengthSize(len(k)) + lengthSize(len(v)) + len(k) + len(v)
	}
	buf := make([]byte, 0, size)
	for k, v := range pairs {
		buf = appendLength(buf, len(k))
		buf = appendLength(buf, len(v))
		buf = append(buf, k...)
		buf = append(buf, v...)
	}
	return buf
}

func lengthSize(n int) int {
	if n <= 127 {
		return 1
	}
	return 4
}

func appendLength(buf []byte, n int) []byte {
	if n <= 127 {
		return append(buf, byte(n))
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n)|(1<<31))
	return append(buf, tmp[:]...)
}

func readLength(b []byte) (length int, consumed int, err error) {
	if len(b) < 1 {
		return 0, 0, ErrEncoding
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, nil
	}
	if len(b) < 4 {
		return 0, 0, ErrEncoding
	}
	n := (uint32(b[0]&0x7f) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3])
	return int(n), 4, nil
}
