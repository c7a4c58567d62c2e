// Package ip validates and normalizes trusted IP entries attached to access
// token policies. Entries are either plain addresses or CIDR blocks.
package ip

import (
	"fmt"
	"net/netip"
)

// Address families for stored descriptors.
const (
	TypeIPv4 = "ipv4"
	TypeIPv6 = "ipv6"
)

// Unrestricted ranges are always permitted regardless of plan entitlements;
// they mean "no restriction".
const (
	UnrestrictedV4 = "0.0.0.0/0"
	UnrestrictedV6 = "::/0"
)

// Detail is the persisted descriptor of one trusted IP entry.
type Detail struct {
	IPAddress string `json:"ipAddress"`
	Type      string `json:"type"`
	Prefix    *int   `json:"prefix,omitempty"`
}

// IsValidIPOrCIDR reports whether s is a syntactically valid IPv4/IPv6
// address or CIDR block.
func IsValidIPOrCIDR(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(s)
	return err == nil
}

// ExtractDetails parses an address or CIDR entry into its stored descriptor.
func ExtractDetails(s string) (Detail, error) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return Detail{IPAddress: addr.String(), Type: familyOf(addr)}, nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Detail{}, fmt.Errorf("ip: %q is not a valid IPv4, IPv6, or CIDR block", s)
	}
	bits := prefix.Bits()
	return Detail{
		IPAddress: prefix.Addr().String(),
		Type:      familyOf(prefix.Addr()),
		Prefix:    &bits,
	}, nil
}

// CheckAgainstList reports whether client is inside any entry of the trusted
// list. A plain address entry matches only that address; a CIDR entry
// matches its whole range.
func CheckAgainstList(client string, list []Detail) (bool, error) {
	addr, err := netip.ParseAddr(client)
	if err != nil {
		return false, fmt.Errorf("ip: invalid client address %q", client)
	}
	for _, entry := range list {
		entryAddr, err := netip.ParseAddr(entry.IPAddress)
		if err != nil {
			continue
		}
		if entry.Prefix == nil {
			if entryAddr == addr {
				return true, nil
			}
			continue
		}
		prefix, err := entryAddr.Prefix(*entry.Prefix)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}

// IsUnrestricted reports whether the raw entry is one of the default
// "match everything" ranges.
func IsUnrestricted(s string) bool {
	return s == UnrestrictedV4 || s == UnrestrictedV6
}

func familyOf(addr netip.Addr) string {
	if addr.Is4() {
		return TypeIPv4
	}
	return TypeIPv6
}
