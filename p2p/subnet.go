package p2p

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Subnet is an immutable IPv4 or IPv6 network range in canonical form: the
// base address carries the family width (4 or 16 bytes) and every bit beyond
// the prefix length is zeroed. Two Subnets are equal iff their masked forms
// are identical, so the zero-safe struct can be used directly as a map key.
type Subnet struct {
	network string
	prefix  int
}

// ParseSubnet parses "addr" or "addr/prefix" into a Subnet. A bare address
// yields a host prefix (/32 or /128). Errors wrap ErrInvalidSubnet.
func ParseSubnet(text string) (Subnet, error) {
	text = strings.TrimSpace(text)
	host := text
	prefixPart := ""
	if idx := strings.IndexByte(text, '/'); idx >= 0 {
		host = text[:idx]
		prefixPart = text[idx+1:]
	}
	ip := parseIP(host)
	if ip == nil {
		return Subnet{}, fmt.Errorf("%w: %q", ErrInvalidSubnet, text)
	}
	bits := len(ip) * 8
	prefix := bits
	if prefixPart != "" {
		n, err := strconv.Atoi(prefixPart)
		if err != nil || n < 0 || n > bits {
			return Subnet{}, fmt.Errorf("%w: prefix %q out of range for %s", ErrInvalidSubnet, prefixPart, host)
		}
		prefix = n
	}
	masked := ip.Mask(net.CIDRMask(prefix, bits))
	return Subnet{network: string(masked), prefix: prefix}, nil
}

// ParseAddress parses a bare IP address. A string carrying an explicit
// prefix, or one that fails to parse for either family, wraps ErrInvalidAddress.
func ParseAddress(text string) (net.IP, error) {
	text = strings.TrimSpace(text)
	if strings.ContainsRune(text, '/') {
		return nil, fmt.Errorf("%w: %q carries a prefix", ErrInvalidAddress, text)
	}
	ip := parseIP(text)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	return ip, nil
}

// parseIP normalizes to the family width: 4 bytes for IPv4 (including
// v4-mapped forms), 16 bytes for IPv6.
func parseIP(host string) net.IP {
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

// Valid reports whether the subnet was produced by a successful parse.
func (s Subnet) Valid() bool {
	return len(s.network) == net.IPv4len || len(s.network) == net.IPv6len
}

// Prefix returns the prefix length in bits.
func (s Subnet) Prefix() int {
	return s.prefix
}

// IsIPv4 reports the address family.
func (s Subnet) IsIPv4() bool {
	return len(s.network) == net.IPv4len
}

// Contains reports whether ip falls inside the subnet. Addresses of the
// other family never match. A zero-length prefix matches the whole family.
func (s Subnet) Contains(ip net.IP) bool {
	if !s.Valid() {
		return false
	}
	normalized := parseNetIP(ip)
	if normalized == nil || len(normalized) != len(s.network) {
		return false
	}
	masked := normalized.Mask(net.CIDRMask(s.prefix, len(s.network)*8))
	return string(masked) == s.network
}

func parseNetIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

// String renders the canonical "addr/prefix" form; host prefixes are still
// rendered with their explicit length.
func (s Subnet) String() string {
	if !s.Valid() {
		return "<invalid subnet>"
	}
	return net.IP(s.network).String() + "/" + strconv.Itoa(s.prefix)
}

// Compare imposes the canonical total order used for listing and
// persistence: IPv4 before IPv6, then network bytes, then prefix ascending.
func (s Subnet) Compare(other Subnet) int {
	if len(s.network) != len(other.network) {
		if len(s.network) < len(other.network) {
			return -1
		}
		return 1
	}
	if c := bytes.Compare([]byte(s.network), []byte(other.network)); c != 0 {
		return c
	}
	switch {
	case s.prefix < other.prefix:
		return -1
	case s.prefix > other.prefix:
		return 1
	}
	return 0
}
