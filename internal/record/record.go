// Package record implements the FastCGI wire frame: an 8-byte header plus
// content and padding, and the BeginRequest/EndRequest bodies carried
// inside it. All multi-byte fields are big-endian on the wire regardless of
// host endianness; this package never branches on host byte order.
package record

import "encoding/binary"

// Type is the FastCGI record type, a closed enum with fixed wire values.
type Type uint8

const (
	BeginRequest     Type = 1
	AbortRequest     Type = 2
	EndRequest       Type = 3
	Params           Type = 4
	Stdin            Type = 5
	Stdout           Type = 6
	Stderr           Type = 7
	Data             Type = 8
	GetValues        Type = 9
	GetValuesResult  Type = 10
	UnknownType      Type = 11
)

// Role is carried inside a BeginRequest body.
type Role uint16

const (
	Responder  Role = 1
	Authorizer Role = 2
	Filter     Role = 3
)

// ProtocolStatus is carried inside an EndRequest body.
type ProtocolStatus uint8

const (
	RequestComplete ProtocolStatus = 0
	CantMultiplex   ProtocolStatus = 1
	Overloaded      ProtocolStatus = 2
	UnknownRole     ProtocolStatus = 3
)

const (
	// HeaderLen is the fixed size of a record header.
	HeaderLen = 8
	// MaxContentLength is the largest content length a single record can
	// declare.
	MaxContentLength = 65535
	// MaxPadding is the largest padding length a single record can
	// declare.
	MaxPadding = 255
	// KeepConnFlag is bit 0 of a BeginRequest body's flags byte.
	KeepConnFlag = 1
)

// Header is the decoded 8-byte record header.
type Header struct {
	Version       uint8
	Type          Type
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

func decodeHeader(b []byte) Header {
	return Header{
		Version:       b[0],
		Type:          Type(b[1]),
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
		Reserved:      b[7],
	}
}

func (h Header) encode(b []byte) {
	b[0] = h.Version
	b[1] = byte(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.RequestID)
	binary.BigEndian.PutUint16(b[4:6], h.ContentLength)
	b[6] = h.PaddingLength
	b[7] = h.Reserved
}

// Frame is one fully decoded record: header plus content (padding is
// stripped on decode and regenerated on encode).
type Frame struct {
	Header
	Content []byte
}

// BeginRequestRole returns the role carried by a BEGIN_REQUEST frame's
// content (big-endian 16-bit at offset 0).
func (f *Frame) BeginRequestRole() Role {
	if len(f.Content) < 2 {
		return 0
	}
	return Role(binary.BigEndian.Uint16(f.Content[0:2]))
}

// BeginRequestKeepConn returns bit 0 of a BEGIN_REQUEST frame's flags byte
// (content offset 2).
func (f *Frame) BeginRequestKeepConn() bool {
	if len(f.Content) < 3 {
		return false
	}
	return f.Content[2]&KeepConnFlag != 0
}

// EndRequestBody builds the 8-byte content of an END_REQUEST record.
func EndRequestBody(appStatus uint32, protocolStatus ProtocolStatus) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], appStatus)
	b[4] = byte(protocolStatus)
	return b
}

// BeginRequestBody builds the 8-byte content of a BEGIN_REQUEST record,
// used only by tests that play the peer side of the protocol.
func BeginRequestBody(role Role, keepConn bool) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], uint16(role))
	if keepConn {
		b[2] = KeepConnFlag
	}
	return b
}

func paddingFor(contentLen int) uint8 {
	return uint8((8 - contentLen%8) % 8)
}
