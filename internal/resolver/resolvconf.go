package resolver

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// resolvConfPath is a variable so tests can point it at a fixture.
var resolvConfPath = "/etc/resolv.conf"

// SystemServers returns the system resolver endpoints as "host:port".
func SystemServers() ([]string, error) {
	cc, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return nil, err
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", resolvConfPath)
	}
	out := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		out = append(out, net.JoinHostPort(s, cc.Port))
	}
	return out, nil
}

// SystemServerAddrs returns the resolver IPs only. The policy compiler uses
// these to pin DNS rules to the configured resolvers instead of allowing
// port 53 to arbitrary destinations.
func SystemServerAddrs() ([]netip.Addr, error) {
	cc, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return nil, err
	}
	var out []netip.Addr
	for _, s := range cc.Servers {
		if addr, err := netip.ParseAddr(s); err == nil {
			out = append(out, addr.Unmap())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable nameserver addresses in %s", resolvConfPath)
	}
	return out, nil
}

// ServerAddrsFromEndpoints extracts the IPs from "host:port" endpoints,
// for callers that already hold a Resolver's server list.
func ServerAddrsFromEndpoints(endpoints []string) []netip.Addr {
	var out []netip.Addr
	for _, ep := range endpoints {
		host, _, err := net.SplitHostPort(ep)
		if err != nil {
			host = ep
		}
		if addr, err := netip.ParseAddr(host); err == nil {
			out = append(out, addr.Unmap())
		}
	}
	return out
}
