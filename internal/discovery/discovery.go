// Package discovery implements the two LAN discovery mechanisms: UDP
// broadcast DISCOVER (servers finding each other, clients finding a
// server) and UDP multicast DISCOVER_SERVER (client alternative to
// broadcast). Both are advisory: an empty result is a valid "I am
// alone" outcome, never an error.
package discovery

import (
	"context"
	"net"
	"time"

	"flock/internal/config"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/wire"
)

// Peer is one reply collected during a discovery round.
type Peer struct {
	Name     string
	Endpoint model.Endpoint
}

// Discoverer abstracts how a set of live peers is found, so nodes and
// clients share the same bootstrap call regardless of mechanism.
type Discoverer interface {
	Discover(ctx context.Context) ([]Peer, error)
}

// BroadcastDiscoverer sends DISCOVER to the LAN broadcast address on
// the server command port and collects replies until its timeout
// elapses.
type BroadcastDiscoverer struct {
	cfg config.DiscoveryConfig
	log logger.Logger
}

func NewBroadcastDiscoverer(cfg config.DiscoveryConfig, log logger.Logger) *BroadcastDiscoverer {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &BroadcastDiscoverer{cfg: cfg, log: log.Named("discovery.broadcast")}
}

// Discover broadcasts DISCOVER and returns every (name, endpoint) pair
// that answered before the configured timeout.
func (b *BroadcastDiscoverer) Discover(ctx context.Context) ([]Peer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: model.CommandPort}
	if ip := net.ParseIP(b.cfg.BroadcastAddr); ip != nil {
		dst.IP = ip
	}

	if err := setBroadcast(conn); err != nil {
		b.log.Warn("failed to enable SO_BROADCAST", logger.F("err", err.Error()))
	}

	if _, err := conn.WriteTo([]byte(wire.Encode(wire.VerbDiscover)), dst); err != nil {
		return nil, err
	}

	timeout := b.cfg.BroadcastTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var peers []Peer
	buf := make([]byte, 1400)
	for {
		select {
		case <-ctx.Done():
			return peers, nil
		default:
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return peers, nil
			}
			return peers, nil
		}
		name := wire.Trim(string(buf[:n]))
		if name == "" {
			continue
		}
		ua, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		peers = append(peers, Peer{Name: name, Endpoint: model.Endpoint{IP: ua.IP.String(), Port: model.CommandPort}})
	}
}

// RespondName sends this node's name back to a DISCOVER sender.
func RespondName(conn *net.UDPConn, to *net.UDPAddr, name string) error {
	_, err := conn.WriteToUDP([]byte(wire.Encode(name)), to)
	return err
}
