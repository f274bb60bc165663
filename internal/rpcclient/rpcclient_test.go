package rpcclient

import (
	"net"
	"testing"
	"time"

	"flock/internal/model"
)

func echoServer(t *testing.T, reply func(msg string) (string, bool)) model.Endpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1400)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if out, ok := reply(string(buf[:n])); ok {
				conn.WriteToUDP([]byte(out), addr)
			}
		}
	}()

	laddr := conn.LocalAddr().(*net.UDPAddr)
	return model.Endpoint{IP: "127.0.0.1", Port: laddr.Port}
}

func TestRequestReceivesReply(t *testing.T) {
	to := echoServer(t, func(msg string) (string, bool) {
		return "PONG\r\n", true
	})

	c := New(NewPool(nil))
	defer c.CloseAll()

	got, err := c.Request(to, "PING\r\n", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "PONG" {
		t.Fatalf("got %q, want PONG", got)
	}
}

func TestRequestTimesOutWhenNoReply(t *testing.T) {
	to := echoServer(t, func(msg string) (string, bool) {
		return "", false
	})

	c := New(NewPool(nil))
	defer c.CloseAll()

	_, err := c.Request(to, "PING\r\n", 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSendIsFireAndForget(t *testing.T) {
	received := make(chan string, 1)
	to := echoServer(t, func(msg string) (string, bool) {
		received <- msg
		return "", false
	})

	c := New(NewPool(nil))
	defer c.CloseAll()

	if err := c.Send(to, "KILL\r\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-received:
		if msg != "KILL\r\n" {
			t.Fatalf("received %q, want KILL\\r\\n", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the datagram")
	}
}

func TestPoolReusesSocketForSameAddress(t *testing.T) {
	to := echoServer(t, func(msg string) (string, bool) {
		return "OK\r\n", true
	})

	pool := NewPool(nil)
	defer pool.CloseAll()

	e1, err := pool.get(to.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	e2, err := pool.get(to.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e1 != e2 {
		t.Fatal("expected the same pooled entry for repeated calls to the same address")
	}
}

func TestCloseConnForgetsSocket(t *testing.T) {
	to := echoServer(t, func(msg string) (string, bool) {
		return "OK\r\n", true
	})

	pool := NewPool(nil)
	defer pool.CloseAll()

	e1, err := pool.get(to.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := pool.CloseConn(to.String()); err != nil {
		t.Fatalf("CloseConn: %v", err)
	}
	e2, err := pool.get(to.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e1 == e2 {
		t.Fatal("expected a fresh entry after CloseConn")
	}
}
