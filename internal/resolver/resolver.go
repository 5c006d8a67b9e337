// Package resolver turns the domain whitelist into the set of addresses the
// packet filter may admit.
//
// Every whitelist entry is looked up (A and AAAA) together with a fixed group
// of probe subdomains, since contest platforms routinely serve assets from
// www/cdn/static hosts that never appear in the operator's list. Individual
// lookup failures are non-fatal; only a cycle that resolves nothing at all
// falls back to the durable per-user address cache, and only a missing cache
// makes the cycle fail outright. The engine must never be handed an empty
// allow-set next to a default-reject policy.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/miekg/dns"

	"grimm.is/cordon/internal/logging"
	"grimm.is/cordon/internal/whitelist"
)

// ProbeSubdomains are prepended to every whitelist entry during resolution.
var ProbeSubdomains = []string{"www", "api", "cdn", "static", "assets"}

// ErrNoAddresses is returned when a cycle resolves nothing and no cache
// exists to fall back to.
var ErrNoAddresses = errors.New("resolution yielded no addresses and no cache exists")

// Result is the outcome of one resolution cycle.
type Result struct {
	// ByDomain maps each queried whitelist entry (not probe subdomains) to
	// the union of addresses observed for it and its probes.
	ByDomain map[string][]netip.Addr

	// Stale is true when the result was served from the address cache
	// because the live cycle resolved zero addresses.
	Stale bool

	addrs []netip.Addr
}

// Addrs returns the deduplicated, sorted address set.
func (r *Result) Addrs() []netip.Addr {
	return r.addrs
}

// Count returns the total number of distinct addresses.
func (r *Result) Count() int {
	return len(r.addrs)
}

// NewResult builds a Result from already resolved addresses. Used by
// callers that stub out resolution.
func NewResult(byDomain map[string][]netip.Addr, addrs []netip.Addr, stale bool) *Result {
	return &Result{ByDomain: byDomain, Stale: stale, addrs: addrs}
}

// Config holds resolver tuning.
type Config struct {
	// QueryTimeout bounds each individual DNS exchange.
	QueryTimeout time.Duration

	// Servers overrides the system resolver list ("host:port"). Empty means
	// read /etc/resolv.conf.
	Servers []string
}

// Resolver performs whitelist resolution with cache fallback.
type Resolver struct {
	client  *dns.Client
	servers []string
	cache   *Cache
	logger  *logging.Logger
}

// New creates a resolver. cache may be nil, in which case there is no
// fallback and a zero-address cycle always fails.
func New(cfg Config, cache *Cache, logger *logging.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	servers := cfg.Servers
	if len(servers) == 0 {
		var err error
		servers, err = SystemServers()
		if err != nil {
			return nil, fmt.Errorf("failed to discover system resolvers: %w", err)
		}
	}

	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		cache:   cache,
		logger:  logger.WithComponent("resolver"),
	}, nil
}

// Servers returns the upstream resolver endpoints in use ("host:port").
func (r *Resolver) Servers() []string {
	return r.servers
}

// Resolve resolves the whitelist plus screened dependency hints for user.
// Hints matching the blocklist are dropped and logged, never merged. On
// success the cache is rewritten; on a zero-address cycle the cache is
// returned verbatim and the result marked stale.
func (r *Resolver) Resolve(ctx context.Context, user string, wl *whitelist.Whitelist, hints []string) (*Result, error) {
	kept, dropped := whitelist.Screen(hints)
	for _, d := range dropped {
		r.logger.Warn("dropping blocklisted dependency hint", "user", user, "hint", d)
	}

	domains := append(wl.Domains(), kept...)

	res := &Result{ByDomain: make(map[string][]netip.Addr, len(domains))}
	seen := make(map[netip.Addr]struct{})

	for _, domain := range domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names := append([]string{domain}, probeNames(domain)...)
		var addrs []netip.Addr
		for _, name := range names {
			addrs = append(addrs, r.lookup(ctx, name, dns.TypeA)...)
			addrs = append(addrs, r.lookup(ctx, name, dns.TypeAAAA)...)
		}
		if len(addrs) == 0 {
			r.logger.Debug("no addresses resolved for domain", "user", user, "domain", domain)
			continue
		}
		res.ByDomain[domain] = dedupSorted(addrs)
		for _, a := range res.ByDomain[domain] {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				res.addrs = append(res.addrs, a)
			}
		}
	}

	sortAddrs(res.addrs)

	if len(res.addrs) > 0 {
		if r.cache != nil {
			if err := r.cache.Store(user, res.addrs); err != nil {
				r.logger.Warn("failed to persist address cache", "user", user, "error", err)
			}
		}
		return res, nil
	}

	// Fail-safe: an empty allow-set with the default reject active would
	// sever the user completely, so serve the last known good set instead.
	if r.cache != nil {
		cached, err := r.cache.Load(user)
		if err == nil && len(cached) > 0 {
			r.logger.Warn("resolution returned nothing, serving cached addresses",
				"user", user, "cached", len(cached))
			return &Result{
				ByDomain: map[string][]netip.Addr{},
				Stale:    true,
				addrs:    cached,
			}, nil
		}
	}

	return nil, ErrNoAddresses
}

// lookup performs one query with a single retry. Failures contribute no
// addresses; the caller decides whether the aggregate is usable.
func (r *Resolver) lookup(ctx context.Context, name string, qtype uint16) []netip.Addr {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	for attempt := 0; attempt < 2; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		for _, server := range r.servers {
			in, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil || in == nil {
				continue
			}
			if in.Rcode != dns.RcodeSuccess {
				// NXDOMAIN and friends are definitive; retrying won't help.
				return nil
			}
			return answersToAddrs(in)
		}
	}
	return nil
}

func answersToAddrs(in *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range in.Answer {
		switch a := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				out = append(out, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(a.AAAA); ok {
				out = append(out, addr.Unmap())
			}
		}
	}
	return out
}

func probeNames(domain string) []string {
	names := make([]string, 0, len(ProbeSubdomains))
	for _, sub := range ProbeSubdomains {
		names = append(names, sub+"."+domain)
	}
	return names
}

func dedupSorted(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := addrs[:0]
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sortAddrs(out)
	return out
}

func sortAddrs(addrs []netip.Addr) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
