package netutil

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestListenTCP4(t *testing.T) {
	l, err := ListenTCP4("127.0.0.1", 0, 5)
	if err != nil {
		t.Fatalf("ListenTCP4() error = %v", err)
	}
	defer l.Close()

	port := Port(l.Addr())
	if port == 0 {
		t.Fatalf("Port(%v) = 0", l.Addr())
	}

	accepted := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
		accepted <- err
	}()

	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	c.Close()

	if err := <-accepted; err != nil {
		t.Errorf("Accept() error = %v", err)
	}
}

func TestListenTCP4RejectsIPv6(t *testing.T) {
	if _, err := ListenTCP4("::1", 0, 1); err == nil {
		t.Error("ListenTCP4() should reject an IPv6 host")
	}
	if _, err := ListenTCP4("not-an-ip", 0, 1); err == nil {
		t.Error("ListenTCP4() should reject a hostname")
	}
}

func TestIsTimeout(t *testing.T) {
	l, err := ListenTCP4("127.0.0.1", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	_ = l.(*net.TCPListener).SetDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = l.Accept()
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
	if IsTimeout(nil) {
		t.Error("IsTimeout(nil) = true")
	}
}
