package rpcclient

import (
	"errors"
	"net"
	"time"

	"flock/internal/model"
	"flock/internal/wire"
)

var (
	// ErrTimeout is returned when no reply arrives before the deadline.
	ErrTimeout = errors.New("rpcclient: timed out waiting for reply")
)

// Client issues wire-protocol requests over a Pool of reusable UDP
// sockets.
type Client struct {
	pool *Pool
}

func New(pool *Pool) *Client {
	return &Client{pool: pool}
}

// Send fires a datagram at to without waiting for a reply, used for
// best-effort notifications like PRED_CHANGE, REPLIC, DROP_REPLICS,
// KILL and FIX.
func (c *Client) Send(to model.Endpoint, payload string) error {
	e, err := c.pool.get(to.String())
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.conn.Write([]byte(payload))
	return err
}

// Request sends payload to "to" and waits up to timeout for a single
// reply datagram, returning its trimmed contents. A timed-out read
// returns ErrTimeout; the caller decides whether that means "dead
// peer" or "no reply needed".
func (c *Client) Request(to model.Endpoint, payload string, timeout time.Duration) (string, error) {
	e, err := c.pool.get(to.String())
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.conn.Write([]byte(payload)); err != nil {
		return "", err
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	buf := make([]byte, 1400)
	n, err := e.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", ErrTimeout
		}
		return "", err
	}
	return wire.Trim(string(buf[:n])), nil
}

// Close releases the pooled socket toward to, if any.
func (c *Client) Close(to model.Endpoint) error {
	return c.pool.CloseConn(to.String())
}

// CloseAll releases every pooled socket.
func (c *Client) CloseAll() error {
	return c.pool.CloseAll()
}
