package netaddr

import (
	"errors"
	"net"
	"net/netip"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		family   Family
		want     string
		testName string
	}{
		{"203.0.113.5", FamilyIPv4, "203.0.113.5", "bare ipv4"},
		{"203.0.113.5:8303", FamilyIPv4, "203.0.113.5", "ipv4 with port"},
		{"  198.51.100.7 ", FamilyIPv4, "198.51.100.7", "surrounding space"},
		{"2001:db8::1", FamilyIPv6, "2001:db8::1", "bare ipv6"},
		{"2001:0db8:0000:0000:0000:0000:0000:0001", FamilyIPv6, "2001:db8::1", "uncompressed ipv6"},
		{"[2001:db8::1]:8303", FamilyIPv6, "2001:db8::1", "bracketed ipv6 with port"},
		{"[::1]", FamilyIPv6, "::1", "bracketed ipv6"},
		{"::ffff:192.0.2.1", FamilyIPv6, "::ffff:192.0.2.1", "mapped ipv4 stays ipv6"},
		{"ws://203.0.113.5", FamilyWebsocketIPv4, "ws://203.0.113.5", "websocket"},
		{"WS://203.0.113.5:80", FamilyWebsocketIPv4, "ws://203.0.113.5", "websocket upper with port"},
	}

	for _, tc := range cases {
		t.Run(tc.testName, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.in, err)
			}
			if got.Family != tc.family {
				t.Fatalf("Parse(%q) family = %v, want %v", tc.in, got.Family, tc.family)
			}
			if got.String() != tc.want {
				t.Fatalf("Parse(%q).String() = %q, want %q", tc.in, got.String(), tc.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-an-ip",
		"256.1.1.1",
		"1.2.3",
		"203.0.113.5:99999",
		"fe80::1%eth0",
		"ws://2001:db8::1",
		"garbage text here",
	}
	for _, in := range inputs {
		if a, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) = %v, want error", in, a)
		}
	}
}

func TestParseErrorsAreTyped(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Parse(\"\") error = %v, want ErrEmpty", err)
	}
	if _, err := Parse("ws://::1"); !errors.Is(err, ErrWebsocketV6) {
		t.Fatalf("Parse(ws://::1) error = %v, want ErrWebsocketV6", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	addrs := []Address{
		IPv4(203, 0, 113, 5),
		IPv4(203, 0, 113, 5).Websocket(),
		MustParse("2001:db8::dead:beef"),
		MustParse("::"),
	}
	for _, a := range addrs {
		back, err := Parse(a.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", a.String(), err)
		}
		if back != a {
			t.Fatalf("round trip of %q = %#v, want %#v", a.String(), back, a)
		}
	}
}

func TestFromNetAddr(t *testing.T) {
	cases := []struct {
		addr net.Addr
		want Address
	}{
		{&net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 4000}, IPv4(203, 0, 113, 5)},
		{&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 1}, IPv4(10, 0, 0, 1)},
		{&net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 8303}, MustParse("2001:db8::1")},
		{&net.IPAddr{IP: net.ParseIP("198.51.100.7")}, IPv4(198, 51, 100, 7)},
	}
	for _, tc := range cases {
		got, err := FromNetAddr(tc.addr)
		if err != nil {
			t.Fatalf("FromNetAddr(%v) error = %v", tc.addr, err)
		}
		if got != tc.want {
			t.Fatalf("FromNetAddr(%v) = %v, want %v", tc.addr, got, tc.want)
		}
	}

	if _, err := FromNetAddr(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("FromNetAddr(nil) error = %v, want ErrEmpty", err)
	}
	if _, err := FromNetAddr(&net.TCPAddr{IP: net.ParseIP("fe80::1"), Zone: "eth0"}); !errors.Is(err, ErrZone) {
		t.Fatalf("zoned addr error = %v, want ErrZone", err)
	}
}

func TestNormalize(t *testing.T) {
	a := IPv4(1, 2, 3, 4)
	dirty := a
	dirty.IP[10] = 0xff
	if dirty == a {
		t.Fatalf("test setup: dirty address compares equal")
	}
	if dirty.Normalize() != a {
		t.Fatalf("Normalize() did not clear unused bytes")
	}

	v6 := MustParse("2001:db8::1")
	if v6.Normalize() != v6 {
		t.Fatalf("Normalize() changed an IPv6 address")
	}
}

func TestNetIP(t *testing.T) {
	if got := IPv4(192, 0, 2, 1).Websocket().NetIP(); got != netip.MustParseAddr("192.0.2.1") {
		t.Fatalf("NetIP() = %v", got)
	}
	if got := (Address{}).NetIP(); got.IsValid() {
		t.Fatalf("invalid family produced valid netip %v", got)
	}
}
