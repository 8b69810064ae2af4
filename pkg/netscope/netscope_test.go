package netscope

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kubekattle/unwind/pkg/scope"
)

func TestListenerClosesOnScopeClose(t *testing.T) {
	s := scope.New()
	v, err := s.Push(context.Background(), &Listener{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("push listener: %v", err)
	}
	ln := v.(net.Listener)

	done := make(chan error, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
		done <- err
	}()
	c, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = c.Close()
	if err := <-done; err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := ln.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("accept after close = %v, want net.ErrClosed", err)
	}
}

func TestDialConnectsAndClosesWithScope(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		// Echo a single byte so the client can prove the conn works.
		buf := make([]byte, 1)
		if _, err := c.Read(buf); err == nil {
			_, _ = c.Write(buf)
		}
		_ = c.Close()
	}()

	s := scope.New()
	v, err := s.Push(context.Background(), &Dial{Address: ln.Addr().String(), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("push dial: %v", err)
	}
	conn := v.(net.Conn)
	if _, err := conn.Write([]byte{'x'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf[0] != 'x' {
		t.Fatalf("echo = %q, want %q", buf[0], byte('x'))
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := conn.Write([]byte{'y'}); err == nil {
		t.Fatal("write after close succeeded, want error")
	}
}

func TestDialReportsUnreachableAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := scope.New()
	if _, err := s.Push(context.Background(), &Dial{Address: addr, Timeout: time.Second}); err == nil {
		t.Fatal("push dial to closed port succeeded, want error")
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("len after failed dial = %d, want 0", got)
	}
}
