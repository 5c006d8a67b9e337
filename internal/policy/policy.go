// Package policy compiles a resolved address set into the ordered rule list
// enforced for one restricted user.
//
// The compiled PolicySet is pure data: rendering to nftables syntax lives in
// the enforce package, so ordering and termination invariants can be tested
// without touching the kernel.
package policy

import (
	"net/netip"
	"regexp"
	"strings"
)

// Action is a rule verdict.
type Action string

const (
	Accept Action = "accept"
	Reject Action = "reject"
)

// MatchKind identifies what a rule matches on.
type MatchKind string

const (
	MatchLoopback    MatchKind = "loopback"
	MatchEstablished MatchKind = "established"
	MatchDNS         MatchKind = "dns"
	MatchDestination MatchKind = "destination"
	MatchDefault     MatchKind = "default"
)

// Rule is one entry of a PolicySet.
type Rule struct {
	Action Action
	Match  MatchKind

	// Addrs are the destinations for dns and destination matches.
	Addrs []netip.Addr

	// Ports are the allowed destination ports for destination matches.
	// Empty means all ports.
	Ports []uint16
}

// PolicySet is the ordered rule list for one user. It always terminates in
// exactly one default reject rule.
type PolicySet struct {
	User  string
	UID   uint32
	Table string
	Rules []Rule
}

// AddressCount returns the number of distinct destination addresses.
func (p *PolicySet) AddressCount() int {
	seen := make(map[netip.Addr]struct{})
	for _, r := range p.Rules {
		if r.Match != MatchDestination {
			continue
		}
		for _, a := range r.Addrs {
			seen[a] = struct{}{}
		}
	}
	return len(seen)
}

var tableNameSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

// TableName derives the per-user nftables table name. It is a pure function
// of the username so the compiler and the enforcement engine always agree,
// and removal never needs to consult live kernel state. Distinct users map
// to distinct names: sanitized collisions are disambiguated with a short
// hash of the original name.
func TableName(prefix, username string) string {
	s := tableNameSanitizer.ReplaceAllString(strings.ToLower(username), "_")
	if s != strings.ToLower(username) {
		s = s + "_" + checksum(username)
	}
	return prefix + s
}

// checksum is a tiny stable FNV-1a hex tag, enough to keep sanitized
// usernames from colliding.
func checksum(s string) string {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = hex[h&0xf]
		h >>= 4
	}
	return string(out)
}
