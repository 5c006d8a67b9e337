package resolver

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/cordon/internal/whitelist"
)

// testDNSServer serves the given name-to-address records on a loopback UDP
// port, answering NXDOMAIN for everything else.
func testDNSServer(t *testing.T, records map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		name := strings.TrimSuffix(q.Name, ".")
		vals, ok := records[name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			w.WriteMsg(m)
			return
		}
		for _, v := range vals {
			ip := net.ParseIP(v)
			hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: 60}
			if ip4 := ip.To4(); ip4 != nil && q.Qtype == dns.TypeA {
				hdr.Rrtype = dns.TypeA
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: ip4})
			} else if ip4 == nil && q.Qtype == dns.TypeAAAA {
				hdr.Rrtype = dns.TypeAAAA
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		}
		w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func testResolver(t *testing.T, server string, cache *Cache) *Resolver {
	t.Helper()
	r, err := New(Config{
		QueryTimeout: time.Second,
		Servers:      []string{server},
	}, cache, nil)
	require.NoError(t, err)
	return r
}

func TestResolveCollectsDomainAndProbes(t *testing.T) {
	server := testDNSServer(t, map[string][]string{
		"codeforces.com":     {"172.67.68.254", "2606:4700:20::681a:6a4"},
		"www.codeforces.com": {"104.26.6.164"},
	})
	r := testResolver(t, server, nil)

	wl := whitelist.New("codeforces.com")
	res, err := r.Resolve(context.Background(), "alice", wl, nil)
	require.NoError(t, err)

	assert.False(t, res.Stale)
	assert.Equal(t, 3, res.Count())

	want := []netip.Addr{
		netip.MustParseAddr("104.26.6.164"),
		netip.MustParseAddr("172.67.68.254"),
		netip.MustParseAddr("2606:4700:20::681a:6a4"),
	}
	assert.Equal(t, want, res.Addrs())

	// Probe results are attributed to the listed domain.
	assert.Len(t, res.ByDomain["codeforces.com"], 3)
}

func TestResolveScreensHints(t *testing.T) {
	server := testDNSServer(t, map[string][]string{
		"cdn.jsdelivr.net": {"151.101.1.229"},
		"chat.openai.com":  {"198.51.100.1"},
	})
	r := testResolver(t, server, nil)

	wl := whitelist.New("cdn.jsdelivr.net")
	res, err := r.Resolve(context.Background(), "alice", wl, []string{"chat.openai.com"})
	require.NoError(t, err)

	// The blocklisted hint resolves fine but must never reach the set.
	assert.NotContains(t, res.Addrs(), netip.MustParseAddr("198.51.100.1"))
	assert.Contains(t, res.Addrs(), netip.MustParseAddr("151.101.1.229"))
}

func TestResolveWritesCache(t *testing.T) {
	server := testDNSServer(t, map[string][]string{
		"codeforces.com": {"172.67.68.254"},
	})
	cache := NewCache(t.TempDir())
	r := testResolver(t, server, cache)

	wl := whitelist.New("codeforces.com")
	_, err := r.Resolve(context.Background(), "alice", wl, nil)
	require.NoError(t, err)

	cached, err := cache.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("172.67.68.254")}, cached)
}

func TestResolveFallsBackToCache(t *testing.T) {
	// Server knows nothing, so the cycle resolves zero addresses.
	server := testDNSServer(t, nil)

	cache := NewCache(t.TempDir())
	cachedAddrs := []netip.Addr{
		netip.MustParseAddr("104.26.6.164"),
		netip.MustParseAddr("172.67.68.254"),
	}
	require.NoError(t, cache.Store("alice", cachedAddrs))

	r := testResolver(t, server, cache)
	wl := whitelist.New("codeforces.com")

	res, err := r.Resolve(context.Background(), "alice", wl, nil)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, cachedAddrs, res.Addrs())
}

func TestResolveNoAddressesNoCache(t *testing.T) {
	server := testDNSServer(t, nil)
	r := testResolver(t, server, NewCache(t.TempDir()))

	wl := whitelist.New("codeforces.com")
	_, err := r.Resolve(context.Background(), "alice", wl, nil)
	assert.ErrorIs(t, err, ErrNoAddresses)
}

func TestResolveHonorsContext(t *testing.T) {
	server := testDNSServer(t, nil)
	r := testResolver(t, server, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "alice", whitelist.New("codeforces.com"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeNames(t *testing.T) {
	names := probeNames("codeforces.com")
	assert.Equal(t, []string{
		"www.codeforces.com",
		"api.codeforces.com",
		"cdn.codeforces.com",
		"static.codeforces.com",
		"assets.codeforces.com",
	}, names)
}

func TestServerAddrsFromEndpoints(t *testing.T) {
	addrs := ServerAddrsFromEndpoints([]string{"127.0.0.53:53", "8.8.8.8:53", "bogus::", "2001:4860:4860::8888"})
	assert.Contains(t, addrs, netip.MustParseAddr("127.0.0.53"))
	assert.Contains(t, addrs, netip.MustParseAddr("8.8.8.8"))
	assert.Contains(t, addrs, netip.MustParseAddr("2001:4860:4860::8888"))
}
