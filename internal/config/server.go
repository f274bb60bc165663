package config

import (
	"fmt"
	"net"
)

// pickIP chooses a non-loopback IPv4 address for the host, used when
// node.bind is left empty in the config file.
func pickIP() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip = ip.To4(); ip != nil {
				return ip, nil
			}
		}
	}
	return nil, fmt.Errorf("no suitable network interface found")
}

// ResolveBind returns the IP this node should bind its sockets to,
// picking a LAN-facing interface address when node.bind is empty.
func (cfg *NodeConfig) ResolveBind() (net.IP, error) {
	if cfg.Bind == "" {
		return pickIP()
	}
	ip := net.ParseIP(cfg.Bind)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address: %s", cfg.Bind)
	}
	return ip, nil
}

// ListenCommand opens the UDP socket for the command port.
func (cfg *NodeConfig) ListenCommand() (*net.UDPConn, error) {
	ip, err := cfg.ResolveBind()
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: cfg.CommandPort})
}

// ListenLiveness opens the UDP socket for the liveness port.
func (cfg *NodeConfig) ListenLiveness() (*net.UDPConn, error) {
	ip, err := cfg.ResolveBind()
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: cfg.LivenessPort})
}
