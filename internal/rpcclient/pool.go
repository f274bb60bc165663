// Package rpcclient implements the outgoing half of the wire protocol:
// a pool of reusable UDP sockets, one per remote endpoint, and a thin
// request/reply helper built on top.
package rpcclient

import (
	"net"
	"sync"

	"flock/internal/logger"
)

// entry pairs a dialed UDP socket with a mutex serializing the
// request/reply exchanges that reuse it, since a connected UDP socket
// only ever receives datagrams from its one peer and concurrent
// in-flight requests to the same peer would otherwise race on the
// reply.
type entry struct {
	conn *net.UDPConn
	mu   sync.Mutex
}

// Pool manages reusable UDP sockets toward remote endpoints, mirroring
// the teacher's gRPC ClientPool shape applied to connectionless
// transport.
type Pool struct {
	lgr   logger.Logger
	mu    sync.RWMutex
	conns map[string]*entry
}

func NewPool(lgr logger.Logger) *Pool {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	return &Pool{lgr: lgr.Named("rpcclient"), conns: make(map[string]*entry)}
}

func (p *Pool) get(addr string) (*entry, error) {
	p.mu.RLock()
	e, ok := p.conns[addr]
	p.mu.RUnlock()
	if ok {
		return e, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok = p.conns[addr]; ok {
		return e, nil
	}
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	e = &entry{conn: conn}
	p.conns[addr] = e
	p.lgr.Debug("opened UDP socket", logger.F("addr", addr))
	return e, nil
}

// CloseConn closes and forgets the socket toward addr, if any.
func (p *Pool) CloseConn(addr string) error {
	p.mu.Lock()
	e, ok := p.conns[addr]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.conns, addr)
	p.mu.Unlock()
	p.lgr.Debug("closed UDP socket", logger.F("addr", addr))
	return e.conn.Close()
}

// CloseAll closes every pooled socket.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, e := range p.conns {
		if err := e.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, addr)
	}
	p.lgr.Debug("pool closed, all UDP sockets released")
	return firstErr
}
