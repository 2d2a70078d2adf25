package config

import (
	"net"
	"net/netip"
	"strings"
)

// ACL is a parsed `*_ENABLE` rule set (§6): `*` for all, explicit IPv4
// addresses, CIDR ranges, and/or the `ws:` token permitting cleartext
// transport (TLS is otherwise required).
type ACL struct {
	allowAll  bool
	allowWS   bool
	addrs     map[string]bool
	nets      []*net.IPNet
}

// ParseACL parses the comma-separated `*_ENABLE` value.
func ParseACL(value string) *ACL {
	acl := &ACL{addrs: make(map[string]bool)}
	for _, raw := range strings.Split(value, ",") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		switch {
		case tok == "*":
			acl.allowAll = true
		case tok == "ws:":
			acl.allowWS = true
		case strings.Contains(tok, "/"):
			if _, ipnet, err := net.ParseCIDR(tok); err == nil {
				acl.nets = append(acl.nets, ipnet)
			}
		default:
			if _, err := netip.ParseAddr(tok); err == nil {
				acl.addrs[tok] = true
			}
		}
	}
	return acl
}

// AllowsCleartext reports whether the `ws:` token was present, permitting a
// non-TLS admission.
func (a *ACL) AllowsCleartext() bool { return a.allowWS }

// Allow reports whether remoteAddr (a bare IPv4/IPv6 address, no port) is
// admitted by this ACL.
func (a *ACL) Allow(remoteAddr string) bool {
	if a.allowAll {
		return true
	}
	if a.addrs[remoteAddr] {
		return true
	}
	ip, err := netip.ParseAddr(remoteAddr)
	if err != nil {
		return false
	}
	stdIP := net.IP(ip.AsSlice())
	for _, n := range a.nets {
		if n.Contains(stdIP) {
			return true
		}
	}
	return false
}
