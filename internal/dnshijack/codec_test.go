package dnshijack

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
)

var portal = netip.MustParseAddr("192.168.4.1")

func packQuery(t *testing.T, name string, edns bool) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	if edns {
		m.SetEdns0(4096, false)
	}
	packet, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	return packet
}

func TestParseQuery(t *testing.T) {
	packet := packQuery(t, "connectivitycheck.gstatic.com", false)

	q, err := ParseQuery(packet)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if want := uint16(packet[0])<<8 | uint16(packet[1]); q.ID != want {
		t.Errorf("ID = %#04x, want %#04x", q.ID, want)
	}
	if q.QDCount != 1 {
		t.Errorf("QDCount = %d, want 1", q.QDCount)
	}
	if !bytes.Equal(q.Question, packet[HeaderSize:]) {
		t.Errorf("Question = %x, want %x", q.Question, packet[HeaderSize:])
	}
}

func TestParseQueryDropsAdditionalRecords(t *testing.T) {
	plain := packQuery(t, "example.com", false)
	withOpt := packQuery(t, "example.com", true)

	q, err := ParseQuery(withOpt)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if !bytes.Equal(q.Question, plain[HeaderSize:]) {
		t.Errorf("Question includes trailing records: %x", q.Question)
	}
}

func TestParseQueryMalformed(t *testing.T) {
	valid := packQuery(t, "example.com", false)

	response := bytes.Clone(valid)
	response[2] |= 0x80

	noQuestions := bytes.Clone(valid)
	noQuestions[4], noQuestions[5] = 0, 0

	badLabel := bytes.Clone(valid)
	badLabel[HeaderSize] = 0x40

	tests := []struct {
		name   string
		packet []byte
		want   error
	}{
		{"empty", nil, ErrShortPacket},
		{"short header", valid[:11], ErrShortPacket},
		{"response bit", response, ErrNotQuery},
		{"no questions", noQuestions, ErrMalformedQuestion},
		{"header only", valid[:HeaderSize], ErrMalformedQuestion},
		{"truncated name", valid[:HeaderSize+4], ErrMalformedQuestion},
		{"missing type and class", valid[:len(valid)-2], ErrMalformedQuestion},
		{"reserved label bits", badLabel, ErrMalformedQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseQuery(tt.packet); !errors.Is(err, tt.want) {
				t.Errorf("ParseQuery() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildResponse(t *testing.T) {
	packet := packQuery(t, "example.com", false)
	q, err := ParseQuery(packet)
	if err != nil {
		t.Fatal(err)
	}

	resp := BuildResponse(q, portal, 60)

	if !bytes.Equal(resp[0:2], packet[0:2]) {
		t.Errorf("id = %x, want %x", resp[0:2], packet[0:2])
	}
	wantHeader := []byte{0x81, 0x80, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(resp[2:HeaderSize], wantHeader) {
		t.Errorf("header = %x, want %x", resp[2:HeaderSize], wantHeader)
	}
	wantAnswer := []byte{0xC0, 0x0C, 0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 192, 168, 4, 1}
	if !bytes.HasSuffix(resp, wantAnswer) {
		t.Errorf("answer = %x, want suffix %x", resp, wantAnswer)
	}

	var m dns.Msg
	if err := m.Unpack(resp); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if len(m.Answer) != 1 {
		t.Fatalf("answers = %d, want 1", len(m.Answer))
	}
	a, ok := m.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("answer type = %T, want *dns.A", m.Answer[0])
	}
	if !a.A.Equal(net.IPv4(192, 168, 4, 1)) {
		t.Errorf("answer address = %s, want 192.168.4.1", a.A)
	}
	if a.Hdr.Name != "example.com." {
		t.Errorf("answer name = %q, want example.com.", a.Hdr.Name)
	}
}

func TestBuildResponseIsDeterministic(t *testing.T) {
	packet := packQuery(t, "example.org", false)
	q, err := ParseQuery(packet)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(BuildResponse(q, portal, 60), BuildResponse(q, portal, 60)) {
		t.Error("BuildResponse() differs between calls")
	}
}
