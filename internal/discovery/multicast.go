package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"flock/internal/config"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/wire"

	"golang.org/x/net/ipv4"
)

// MulticastDiscoverer sends DISCOVER_SERVER to the multicast group and
// collects directory server replies until the timeout, used by clients
// as an alternative to BroadcastDiscoverer.
type MulticastDiscoverer struct {
	cfg config.DiscoveryConfig
	log logger.Logger
}

func NewMulticastDiscoverer(cfg config.DiscoveryConfig, log logger.Logger) *MulticastDiscoverer {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &MulticastDiscoverer{cfg: cfg, log: log.Named("discovery.multicast")}
}

// Discover sends one DISCOVER_SERVER datagram to the multicast group
// and collects replies until the broadcast timeout elapses.
func (m *MulticastDiscoverer) Discover(ctx context.Context) ([]Peer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	group := net.ParseIP(m.cfg.MulticastGroup)
	if group == nil {
		group = net.ParseIP(model.MulticastGroup)
	}
	dst := &net.UDPAddr{IP: group, Port: m.cfg.MulticastPort}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(model.MulticastTTL); err != nil {
		m.log.Warn("failed to set multicast TTL", logger.F("err", err.Error()))
	}

	if _, err := conn.WriteTo([]byte(wire.Encode(wire.VerbDiscoverServ)), dst); err != nil {
		return nil, err
	}

	timeout := m.cfg.BroadcastTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
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
			return peers, nil
		}
		ip := wire.Trim(string(buf[:n]))
		if ip == "" {
			continue
		}
		ua, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		peers = append(peers, Peer{Name: ip, Endpoint: model.Endpoint{IP: ua.IP.String(), Port: model.CommandPort}})
	}
}

// MulticastResponder is a server's multicast listener: it joins the
// group on the multicast port and answers every DISCOVER_SERVER (or
// any other datagram, per the original protocol's permissive fallback)
// with this node's IP.
type MulticastResponder struct {
	cfg  config.DiscoveryConfig
	self model.Endpoint
	log  logger.Logger
}

func NewMulticastResponder(cfg config.DiscoveryConfig, self model.Endpoint, log logger.Logger) *MulticastResponder {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &MulticastResponder{cfg: cfg, self: self, log: log.Named("discovery.responder")}
}

// Run joins the multicast group and answers requests until ctx is
// cancelled.
func (m *MulticastResponder) Run(ctx context.Context) error {
	group := net.ParseIP(m.cfg.MulticastGroup)
	if group == nil {
		group = net.ParseIP(model.MulticastGroup)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: m.cfg.MulticastPort})
	if err != nil {
		return err
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := false
	for _, iface := range ifaces {
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: group}); err == nil {
			joined = true
		}
	}
	if !joined {
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1400)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		msg := wire.Trim(string(buf[:n]))
		to := addr
		if verb, rest := wire.Verb(msg); verb == wire.VerbDiscoverServ {
			if fields := wire.Fields(rest, 2); len(fields) == 2 {
				if port, err := strconv.Atoi(fields[1]); err == nil {
					to = &net.UDPAddr{IP: net.ParseIP(fields[0]), Port: port}
				}
			}
		}
		if _, err := conn.WriteToUDP([]byte(wire.Encode(m.self.IP)), to); err != nil {
			m.log.Warn("multicast reply failed", logger.F("err", err.Error()))
		}
	}
}
