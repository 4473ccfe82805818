// Package netaddr holds the host identity of a network peer as the whitelist
// sees it: a family tag plus raw host bytes. Ports, zones and anything else
// about the endpoint are dropped on construction.
package netaddr

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Family tags the network protocol variant of an Address.
type Family uint8

const (
	FamilyInvalid Family = iota
	FamilyIPv4
	FamilyWebsocketIPv4
	FamilyIPv6
)

// WebsocketPrefix marks a websocket-tunneled IPv4 address in textual form.
const WebsocketPrefix = "ws://"

var (
	ErrEmpty       = errors.New("empty address")
	ErrZone        = errors.New("zoned addresses are not supported")
	ErrWebsocketV6 = errors.New("websocket family requires an IPv4 address")
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyWebsocketIPv4:
		return "ws-ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "invalid"
	}
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	return f == FamilyIPv4 || f == FamilyWebsocketIPv4 || f == FamilyIPv6
}

// IsIPv4 reports whether f lays its host out in four bytes.
func (f Family) IsIPv4() bool {
	return f == FamilyIPv4 || f == FamilyWebsocketIPv4
}

// Address is comparable; two Addresses built by this package are == exactly
// when they denote the same host in the same family.
type Address struct {
	Family Family
	IP     [16]byte
}

// FromNetIP builds an Address from a netip.Addr. IPv4-mapped IPv6 stays in
// the IPv6 family.
func FromNetIP(ip netip.Addr) (Address, error) {
	if !ip.IsValid() {
		return Address{}, ErrEmpty
	}
	if ip.Zone() != "" {
		return Address{}, ErrZone
	}
	var a Address
	if ip.Is4() {
		a.Family = FamilyIPv4
		b := ip.As4()
		copy(a.IP[:4], b[:])
		return a, nil
	}
	a.Family = FamilyIPv6
	a.IP = ip.As16()
	return a, nil
}

// IPv4 returns a plain IPv4 Address.
func IPv4(a, b, c, d byte) Address {
	return Address{Family: FamilyIPv4, IP: [16]byte{a, b, c, d}}
}

// Websocket returns the websocket-tunneled variant of an IPv4 Address.
// Other families are returned unchanged.
func (a Address) Websocket() Address {
	if a.Family == FamilyIPv4 {
		a.Family = FamilyWebsocketIPv4
	}
	return a
}

// FromNetAddr converts the remote address of an accepted connection.
func FromNetAddr(addr net.Addr) (Address, error) {
	if addr == nil {
		return Address{}, ErrEmpty
	}
	switch v := addr.(type) {
	case *net.TCPAddr:
		return fromStdIP(v.IP, v.Zone)
	case *net.UDPAddr:
		return fromStdIP(v.IP, v.Zone)
	case *net.IPAddr:
		return fromStdIP(v.IP, v.Zone)
	}
	return Parse(addr.String())
}

func fromStdIP(ip net.IP, zone string) (Address, error) {
	if zone != "" {
		return Address{}, ErrZone
	}
	parsed, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}, fmt.Errorf("invalid ip %q", ip)
	}
	// net.IP keeps accepted IPv4 peers in 16-byte mapped form.
	return FromNetIP(parsed.Unmap())
}

// Parse reads the textual form: bare IPv4/IPv6, host:port, [ipv6]:port,
// [ipv6], optionally prefixed with ws:// for the websocket family. Ports are
// validated and dropped.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, ErrEmpty
	}

	websocket := false
	if strings.HasPrefix(strings.ToLower(s), WebsocketPrefix) {
		websocket = true
		s = s[len(WebsocketPrefix):]
	}

	ip, err := parseHost(s)
	if err != nil {
		return Address{}, err
	}
	a, err := FromNetIP(ip)
	if err != nil {
		return Address{}, err
	}
	if websocket {
		if a.Family != FamilyIPv4 {
			return Address{}, ErrWebsocketV6
		}
		a.Family = FamilyWebsocketIPv4
	}
	return a, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("netaddr: %q: %v", s, err))
	}
	return a
}

func parseHost(s string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(s); err == nil {
		return ip, nil
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return netip.ParseAddr(s[1 : len(s)-1])
	}
	return netip.Addr{}, fmt.Errorf("invalid address %q", s)
}

// NetIP returns the host as a netip.Addr.
func (a Address) NetIP() netip.Addr {
	switch {
	case a.Family.IsIPv4():
		return netip.AddrFrom4([4]byte{a.IP[0], a.IP[1], a.IP[2], a.IP[3]})
	case a.Family == FamilyIPv6:
		return netip.AddrFrom16(a.IP)
	}
	return netip.Addr{}
}

// String renders the canonical textual form: dotted quad, RFC 5952 colon-hex
// without brackets, or ws:// plus dotted quad.
func (a Address) String() string {
	switch a.Family {
	case FamilyIPv4, FamilyIPv6:
		return a.NetIP().String()
	case FamilyWebsocketIPv4:
		return WebsocketPrefix + a.NetIP().String()
	}
	return "invalid"
}

// Normalize zeroes the bytes the family does not use, making == agree with
// the family's byte width.
func (a Address) Normalize() Address {
	if a.Family.IsIPv4() {
		for i := 4; i < len(a.IP); i++ {
			a.IP[i] = 0
		}
	}
	return a
}
