package dnshijack

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// HeaderSize is the fixed size of a DNS message header.
const HeaderSize = 12

// Header and answer constants of every hijacked response.
const (
	responseFlags  = 0x8180 // QR, RD, RA; opcode QUERY, rcode NOERROR
	answerPointer  = 0xC00C // compression pointer to the first question name
	typeA          = 1
	classIN        = 1
	answerSize     = 16
	flagQR         = 0x8000
	labelPointer   = 0xC0
	maxLabelLength = 63
)

// Decoding errors. Packets failing with any of these are dropped.
var (
	ErrShortPacket       = errors.New("dns packet shorter than header")
	ErrNotQuery          = errors.New("dns packet is a response")
	ErrMalformedQuestion = errors.New("dns question section malformed")
)

// Query is the part of an incoming packet a hijacked answer depends on.
type Query struct {
	ID       uint16
	Flags    uint16
	QDCount  uint16
	Question []byte // raw question section, starting at offset 12
}

// ParseQuery decodes a query packet. The question section is walked with
// bounds checks and only its bytes are kept, so trailing authority or
// additional records (an EDNS OPT record, typically) are not echoed.
func ParseQuery(packet []byte) (*Query, error) {
	if len(packet) < HeaderSize {
		return nil, ErrShortPacket
	}

	q := &Query{
		ID:      binary.BigEndian.Uint16(packet[0:2]),
		Flags:   binary.BigEndian.Uint16(packet[2:4]),
		QDCount: binary.BigEndian.Uint16(packet[4:6]),
	}
	if q.Flags&flagQR != 0 {
		return nil, ErrNotQuery
	}
	if q.QDCount == 0 {
		return nil, ErrMalformedQuestion
	}

	off := HeaderSize
	for i := 0; i < int(q.QDCount); i++ {
		end, err := skipName(packet, off)
		if err != nil {
			return nil, err
		}
		// QTYPE and QCLASS
		if end+4 > len(packet) {
			return nil, ErrMalformedQuestion
		}
		off = end + 4
	}
	q.Question = packet[HeaderSize:off]
	return q, nil
}

// skipName returns the offset just past the encoded name starting at off.
func skipName(packet []byte, off int) (int, error) {
	for {
		if off >= len(packet) {
			return 0, ErrMalformedQuestion
		}
		n := int(packet[off])
		switch {
		case n == 0:
			return off + 1, nil
		case n&labelPointer == labelPointer:
			if off+2 > len(packet) {
				return 0, ErrMalformedQuestion
			}
			return off + 2, nil
		case n > maxLabelLength:
			return 0, ErrMalformedQuestion
		}
		off += 1 + n
	}
}

// BuildResponse renders the single-answer response redirecting q to ip.
// The answer name is a pointer to the first question name.
func BuildResponse(q *Query, ip netip.Addr, ttl uint32) []byte {
	resp := make([]byte, HeaderSize, HeaderSize+len(q.Question)+answerSize)
	binary.BigEndian.PutUint16(resp[0:2], q.ID)
	binary.BigEndian.PutUint16(resp[2:4], responseFlags)
	binary.BigEndian.PutUint16(resp[4:6], q.QDCount)
	binary.BigEndian.PutUint16(resp[6:8], 1)
	// NSCOUNT and ARCOUNT stay zero.

	resp = append(resp, q.Question...)

	v4 := ip.As4()
	resp = binary.BigEndian.AppendUint16(resp, answerPointer)
	resp = binary.BigEndian.AppendUint16(resp, typeA)
	resp = binary.BigEndian.AppendUint16(resp, classIN)
	resp = binary.BigEndian.AppendUint32(resp, ttl)
	resp = binary.BigEndian.AppendUint16(resp, 4)
	resp = append(resp, v4[:]...)
	return resp
}
