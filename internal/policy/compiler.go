package policy

import (
	"fmt"
	"net/netip"

	"grimm.is/cordon/internal/brand"
)

// WebPorts is the default destination port set: enough for contest judges
// and their asset hosts, nothing else.
var WebPorts = []uint16{80, 443}

// Compiler turns resolved addresses into a PolicySet.
type Compiler struct {
	// TablePrefix is prepended to the sanitized username; defaults to the
	// brand prefix.
	TablePrefix string

	// AllowAllPorts switches destination rules from 80/443 to all ports.
	// This is an explicit configuration decision (allow_all_ports), not a
	// heuristic.
	AllowAllPorts bool
}

// NewCompiler returns a compiler with default settings.
func NewCompiler() *Compiler {
	return &Compiler{TablePrefix: brand.TablePrefix}
}

// Compile builds the PolicySet for user/uid. resolverAddrs are the system
// resolver IPs; DNS is only admitted to those, closing the port-53-anywhere
// exfiltration channel. destAddrs is the resolved allow-set.
//
// Rule order is fixed: loopback, established/related, DNS, destinations,
// default reject. Compile refuses an empty destAddrs. An empty allow-set in
// front of a default reject would sever the user with no recovery path,
// which the resolver's cache fallback exists to prevent.
func (c *Compiler) Compile(user string, uid uint32, resolverAddrs, destAddrs []netip.Addr) (*PolicySet, error) {
	if user == "" {
		return nil, fmt.Errorf("empty username")
	}
	if len(destAddrs) == 0 {
		return nil, fmt.Errorf("refusing to compile empty allow-set for %s", user)
	}
	if len(resolverAddrs) == 0 {
		return nil, fmt.Errorf("no resolver addresses for DNS rules")
	}

	prefix := c.TablePrefix
	if prefix == "" {
		prefix = brand.TablePrefix
	}

	ports := WebPorts
	if c.AllowAllPorts {
		ports = nil
	}

	rules := []Rule{
		{Action: Accept, Match: MatchLoopback},
		{Action: Accept, Match: MatchEstablished},
		{Action: Accept, Match: MatchDNS, Addrs: append([]netip.Addr(nil), resolverAddrs...)},
		{Action: Accept, Match: MatchDestination, Addrs: append([]netip.Addr(nil), destAddrs...), Ports: ports},
		{Action: Reject, Match: MatchDefault},
	}

	return &PolicySet{
		User:  user,
		UID:   uid,
		Table: TableName(prefix, user),
		Rules: rules,
	}, nil
}
