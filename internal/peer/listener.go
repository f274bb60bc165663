package peer

import (
	"context"
	"time"

	"flock/internal/crypto"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/store"
	"flock/internal/wire"
)

// listen runs the message-socket receive loop until ctx is canceled.
func (c *Client) listen(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			c.lgr.Warn("failed to set read deadline", logger.F("err", err.Error()))
			return
		}
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // read timeout, loop back to check ctx
		}
		from := model.Endpoint{IP: addr.IP.String(), Port: addr.Port}
		c.handleDatagram(wire.Trim(string(buf[:n])), from)
	}
}

// handleDatagram dispatches one inbound record per spec.md §4.5's
// peer-listener record types. Unknown verbs are dropped.
func (c *Client) handleDatagram(raw string, from model.Endpoint) {
	verb, rest := wire.Verb(raw)
	switch verb {
	case wire.VerbPing:
		if err := c.sendFrom(from, wire.Encode(wire.VerbPong)); err != nil {
			c.lgr.Warn("PONG reply failed", logger.F("err", err.Error()))
		}
	case wire.VerbMessage:
		c.handleMessage(rest, from)
	case wire.VerbPubKeyReq:
		c.handlePubKeyReq(rest, from)
	case wire.VerbPubKeyRes:
		c.handlePubKeyRes(rest)
	default:
		c.lgr.Debug("ignoring unknown peer verb", logger.F("verb", verb))
	}
}

func (c *Client) handleMessage(rest string, from model.Endpoint) {
	fields := wire.Fields(rest, 2)
	if len(fields) < 2 {
		c.lgr.Warn("malformed MESSAGE, dropping", logger.F("rest", rest))
		return
	}
	sender, payload := fields[0], fields[1]

	text := payload
	if _, ok := c.ks.PeerKey(sender); ok {
		if plaintext, err := c.codec.Decrypt(payload); err == nil {
			text = string(plaintext)
		} else {
			c.lgr.Warn("decryption failed, treating payload as plaintext", logger.F("sender", sender), logger.F("err", err.Error()))
		}
	}

	c.contacts.Update(sender, from)
	if err := c.store.Append(sender, store.Message{Contact: sender, Direction: store.DirectionInbound, Text: text, At: time.Now()}); err != nil {
		c.lgr.Warn("failed to persist inbound message", logger.F("err", err.Error()))
	}
	if c.sink != nil {
		c.sink(sender, text)
	}
}

func (c *Client) handlePubKeyReq(rest string, from model.Endpoint) {
	requester := wire.Trim(rest)
	if requester == "" {
		return
	}
	encoded := crypto.EncodePublicKey(c.ks.PublicKey())
	if err := c.sendFrom(from, wire.Encode(wire.VerbPubKeyRes, c.username, encoded)); err != nil {
		c.lgr.Warn("PUBKEY_RES reply failed", logger.F("err", err.Error()))
	}
	if _, known := c.ks.PeerKey(requester); !known {
		if err := c.sendFrom(from, wire.Encode(wire.VerbPubKeyReq, c.username)); err != nil {
			c.lgr.Warn("reciprocal PUBKEY_REQ failed", logger.F("err", err.Error()))
		}
	}
}

func (c *Client) handlePubKeyRes(rest string) {
	fields := wire.Fields(rest, 2)
	if len(fields) < 2 {
		c.lgr.Warn("malformed PUBKEY_RES, dropping", logger.F("rest", rest))
		return
	}
	peerUsername, encoded := fields[0], fields[1]
	pub, err := crypto.DecodePublicKey(encoded)
	if err != nil {
		c.lgr.Warn("failed to decode peer public key", logger.F("peer", peerUsername), logger.F("err", err.Error()))
		return
	}
	c.ks.PutPeer(peerUsername, pub)
	c.kx.Complete(peerUsername)
}
