// Package peer implements the client half of end-to-end messaging:
// the peer listener (MESSAGE/PUBKEY_REQ/PUBKEY_RES/PING), the
// per-recipient pending-delivery retry queue, key-exchange
// coalescing, and a contact cache mapping usernames to endpoints.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"flock/internal/crypto"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/rpcclient"
	"flock/internal/store"
	"flock/internal/wire"
)

// ErrUnresolved is returned by Send when the recipient is neither in
// the contact cache nor known to the directory server.
var ErrUnresolved = errors.New("peer: recipient not found")

// Resolver looks up a username's current endpoint via the directory
// server, mirroring the RESOLVE verb.
type Resolver interface {
	Resolve(ctx context.Context, username string) (model.Endpoint, error)
}

// Sink is notified of every inbound message, for a presentation layer
// to subscribe to (out of scope; a nil Sink is a valid no-op).
type Sink func(contact, text string)

const pingDeadline = 500 * time.Millisecond

// Client is one local chat identity: its message socket, its outgoing
// transport, its contact cache, pending queue and key exchanger, and
// the message store everything gets persisted to.
type Client struct {
	self     model.Endpoint
	username string

	conn *net.UDPConn
	rc   *rpcclient.Client
	res  Resolver

	ks    *crypto.KeyStore
	codec *crypto.Codec

	store    store.MessageStore
	contacts *ContactCache
	pending  *PendingQueue
	kx       *KeyExchanger

	kxTimeout time.Duration
	sink      Sink
	lgr       logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger injects a custom logger.
func WithLogger(lgr logger.Logger) Option {
	return func(c *Client) { c.lgr = lgr }
}

// WithSink subscribes fn to every inbound message.
func WithSink(fn Sink) Option {
	return func(c *Client) { c.sink = fn }
}

// WithKeyExchangeTimeout overrides the default 5s ensure_peer_key
// timeout.
func WithKeyExchangeTimeout(d time.Duration) Option {
	return func(c *Client) { c.kxTimeout = d }
}

// New binds conn as the client's message socket and builds a Client
// around it. self must already reflect conn's bound address.
func New(conn *net.UDPConn, self model.Endpoint, username string, rc *rpcclient.Client, res Resolver, ks *crypto.KeyStore, st store.MessageStore, opts ...Option) *Client {
	c := &Client{
		self:      self,
		username:  username,
		conn:      conn,
		rc:        rc,
		res:       res,
		ks:        ks,
		codec:     crypto.NewCodec(ks),
		store:     st,
		contacts:  NewContactCache(),
		pending:   NewPendingQueue(nil),
		kxTimeout: 5 * time.Second,
		lgr:       &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lgr = c.lgr.Named("peer").With(logger.F("username", username), logger.FEndpoint("self", self))
	c.pending = NewPendingQueue(c.lgr)
	c.kx = NewKeyExchanger(username, c.sendFrom, c.lgr)
	return c
}

// sendFrom writes payload to "to" from the client's own bound message
// socket, so asynchronous replies (PUBKEY_RES, a reciprocal PUBKEY_REQ)
// the peer sends back to our UDP source address land on c.conn where
// listen reads them, and the source address a MESSAGE recipient caches
// for us is c.conn's, rather than some unrelated rpcclient pool socket.
// The PING/PONG probe goes through the pool instead.
func (c *Client) sendFrom(to model.Endpoint, payload string) error {
	_, err := c.conn.WriteToUDP([]byte(payload), &net.UDPAddr{IP: net.ParseIP(to.IP), Port: to.Port})
	return err
}

// Run serves the message socket and the pending-delivery retry loop
// until ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { c.listen(ctx); done <- struct{}{} }()
	go func() { c.retryLoop(ctx); done <- struct{}{} }()
	<-ctx.Done()
	<-done
	<-done
}

// resolve returns recipient's endpoint from the contact cache, falling
// back to a directory RESOLVE and caching the result.
func (c *Client) resolve(ctx context.Context, recipient string) (model.Endpoint, error) {
	if ep, ok := c.contacts.Lookup(recipient); ok {
		return ep, nil
	}
	ep, err := c.res.Resolve(ctx, recipient)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("%w: %s", ErrUnresolved, recipient)
	}
	c.contacts.Update(recipient, ep)
	return ep, nil
}

// Send delivers text to recipient, encrypting it if the recipient's
// public key is known or can be obtained via key exchange. Delivery
// failures are queued for the retry loop rather than returned as
// errors; only an unresolvable recipient is a hard failure.
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	ep, err := c.resolve(ctx, recipient)
	if err != nil {
		return err
	}
	c.deliverOrQueue(recipient, ep, []byte(text))
	if err := c.store.Append(recipient, store.Message{Contact: recipient, Direction: store.DirectionOutbound, Text: text, At: time.Now()}); err != nil {
		c.lgr.Warn("failed to persist outbound message", logger.F("err", err.Error()))
	}
	return nil
}

// deliverOrQueue attempts one immediate delivery; on failure it
// enqueues plaintext for the retry loop.
func (c *Client) deliverOrQueue(recipient string, ep model.Endpoint, plaintext []byte) {
	if c.tryDeliver(recipient, ep, plaintext) {
		return
	}
	c.pending.Enqueue(recipient, plaintext)
}

// tryDeliver probes recipient and, if alive, sends one MESSAGE frame.
func (c *Client) tryDeliver(recipient string, ep model.Endpoint, plaintext []byte) bool {
	reply, err := c.rc.Request(ep, wire.Encode(wire.VerbPing), pingDeadline)
	if err != nil {
		return false
	}
	if verb, _ := wire.Verb(reply); verb != wire.VerbPong {
		return false
	}

	payload := c.encryptOrPlain(recipient, ep, plaintext)
	if err := c.sendFrom(ep, wire.Encode(wire.VerbMessage, c.username, payload)); err != nil {
		c.lgr.Warn("delivery failed", logger.F("recipient", recipient), logger.F("err", err.Error()))
		return false
	}
	return true
}

// encryptOrPlain encrypts plaintext for recipient if its public key is
// known (attempting key exchange first), else falls back to sending
// plaintext verbatim.
func (c *Client) encryptOrPlain(recipient string, ep model.Endpoint, plaintext []byte) string {
	pub, ok := c.ks.PeerKey(recipient)
	if !ok {
		if c.kx.Ensure(recipient, ep, c.kxTimeout) {
			pub, ok = c.ks.PeerKey(recipient)
		}
	}
	if !ok {
		c.lgr.Warn("sending plaintext: no public key for peer", logger.F("recipient", recipient))
		return string(plaintext)
	}
	ciphertext, err := c.codec.Encrypt(pub, plaintext)
	if err != nil {
		c.lgr.Warn("encryption failed, sending plaintext", logger.F("recipient", recipient), logger.F("err", err.Error()))
		return string(plaintext)
	}
	return ciphertext
}

// retryLoop implements the once-per-second pending-delivery sweep.
func (c *Client) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, recipient := range c.pending.Recipients() {
				ep, err := c.resolve(ctx, recipient)
				if err != nil {
					continue
				}
				c.pending.Flush(recipient, func(plaintext []byte) bool {
					return c.tryDeliver(recipient, ep, plaintext)
				})
			}
		}
	}
}
