package peer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"flock/internal/model"
	"flock/internal/rpcclient"
	"flock/internal/wire"
)

// DirectoryResolver implements Resolver against a directory server's
// command port via REGISTER/RESOLVE.
type DirectoryResolver struct {
	rc      *rpcclient.Client
	server  model.Endpoint
	timeout time.Duration
}

// NewDirectoryResolver builds a DirectoryResolver targeting server.
func NewDirectoryResolver(rc *rpcclient.Client, server model.Endpoint, timeout time.Duration) *DirectoryResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DirectoryResolver{rc: rc, server: server, timeout: timeout}
}

// Resolve issues RESOLVE username to the directory server.
func (d *DirectoryResolver) Resolve(_ context.Context, username string) (model.Endpoint, error) {
	reply, err := d.rc.Request(d.server, wire.Encode(wire.VerbResolve, username), d.timeout)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("resolve %s: %w", username, err)
	}
	verb, rest := wire.Verb(reply)
	if verb != "OK" {
		return model.Endpoint{}, fmt.Errorf("resolve %s: %s", username, rest)
	}
	fields := wire.Fields(rest, 2)
	if len(fields) != 2 {
		return model.Endpoint{}, fmt.Errorf("resolve %s: malformed reply %q", username, reply)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("resolve %s: bad port in reply %q", username, reply)
	}
	return model.Endpoint{IP: fields[0], Port: port}, nil
}

// Register issues REGISTER username self_ip self_port to the directory
// server, per the client endpoint-bootstrap sequence.
func (d *DirectoryResolver) Register(_ context.Context, username string, self model.Endpoint) error {
	reply, err := d.rc.Request(d.server, wire.Encode(wire.VerbRegister, username, self.IP, strconv.Itoa(self.Port)), d.timeout)
	if err != nil {
		return fmt.Errorf("register %s: %w", username, err)
	}
	verb, rest := wire.Verb(reply)
	if verb != "OK" {
		return fmt.Errorf("register %s: %s", username, rest)
	}
	return nil
}
