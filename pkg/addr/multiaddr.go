// Package addr parses the small subset of multiaddr strings this module
// needs to dial or describe a TCP endpoint: /ip4/<dotted>/tcp/<port>.
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidAddress is wrapped with a detail string describing what about
// the address was malformed.
type ErrInvalidAddress struct {
	Detail string
}

func (e *ErrInvalidAddress) Error() string {
	return fmt.Sprintf("invalid_address: %s", e.Detail)
}

// TCP4 is a parsed /ip4/.../tcp/... multiaddr.
type TCP4 struct {
	IP   net.IP
	Port uint16
}

func (a TCP4) String() string {
	return fmt.Sprintf("/ip4/%s/tcp/%d", a.IP.String(), a.Port)
}

// NetAddr returns the equivalent *net.TCPAddr.
func (a TCP4) NetAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP, Port: int(a.Port)}
}

// Parse parses a multiaddr string of the form /ip4/<dotted>/tcp/<port>.
// Anything else yields *ErrInvalidAddress.
func Parse(s string) (TCP4, error) {
	parts := strings.Split(s, "/")
	// strings.Split("/ip4/1.2.3.4/tcp/80", "/") => ["", "ip4", "1.2.3.4", "tcp", "80"]
	if len(parts) != 5 || parts[0] != "" || parts[1] != "ip4" || parts[3] != "tcp" {
		return TCP4{}, &ErrInvalidAddress{Detail: fmt.Sprintf("%q is not of the form /ip4/<dotted>/tcp/<port>", s)}
	}
	ip := net.ParseIP(parts[2]).To4()
	if ip == nil {
		return TCP4{}, &ErrInvalidAddress{Detail: fmt.Sprintf("%q is not a dotted IPv4 address", parts[2])}
	}
	port, err := strconv.ParseUint(parts[4], 10, 16)
	if err != nil {
		return TCP4{}, &ErrInvalidAddress{Detail: fmt.Sprintf("%q is not a valid port", parts[4])}
	}
	return TCP4{IP: ip, Port: uint16(port)}, nil
}

// FromNetAddr renders a net.Addr (as returned by net.Conn.LocalAddr /
// RemoteAddr) as a multiaddr string, for metadata/introspection purposes.
func FromNetAddr(a net.Addr) string {
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return fmt.Sprintf("/ip6/%s/tcp/%s", host, portStr)
	}
	return fmt.Sprintf("/ip4/%s/tcp/%s", ip.String(), portStr)
}
