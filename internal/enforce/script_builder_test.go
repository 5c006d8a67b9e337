package enforce

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/cordon/internal/policy"
)

func testPolicy(t *testing.T) *policy.PolicySet {
	t.Helper()
	c := policy.NewCompiler()
	resolvers := []netip.Addr{netip.MustParseAddr("127.0.0.53")}
	dests := []netip.Addr{
		netip.MustParseAddr("172.67.68.254"),
		netip.MustParseAddr("104.26.6.164"),
		netip.MustParseAddr("2606:4700:20::681a:6a4"),
	}
	p, err := c.Compile("alice", 1000, resolvers, dests)
	require.NoError(t, err)
	return p
}

func TestRenderPolicySwapPrelude(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)

	lines := strings.Split(script, "\n")
	require.Greater(t, len(lines), 3)

	// The add/delete prelude must precede the table definition so the
	// whole replacement lands in one transaction.
	assert.Equal(t, "add table inet "+p.Table, lines[0])
	assert.Equal(t, "delete table inet "+p.Table, lines[1])

	defIdx := -1
	for i, l := range lines {
		if strings.Contains(l, "{ comment") {
			defIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, defIdx, 2, "table definition must follow the prelude")
}

func TestRenderPolicyGuardsOtherUsers(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)

	assert.Contains(t, script, "meta skuid != 1000 accept")
	assert.Contains(t, script, "type filter hook output")
}

func TestRenderPolicyRuleOrder(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)

	loopback := strings.Index(script, `oifname "lo" accept`)
	established := strings.Index(script, "ct state established,related accept")
	dns := strings.Index(script, "@"+SetDNSV4)
	dest := strings.Index(script, "@"+SetAllowedV4)
	reject := strings.Index(script, "counter reject")

	require.NotEqual(t, -1, loopback)
	require.NotEqual(t, -1, established)
	require.NotEqual(t, -1, dns)
	require.NotEqual(t, -1, dest)
	require.NotEqual(t, -1, reject)

	assert.Less(t, loopback, established)
	assert.Less(t, established, dns)
	assert.Less(t, dns, dest)
	assert.Less(t, dest, reject)
}

func TestRenderPolicySplitsFamilies(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)

	assert.Contains(t, script, "172.67.68.254")
	assert.Contains(t, script, "104.26.6.164")
	assert.Contains(t, script, "2606:4700:20::681a:6a4")
	assert.Contains(t, script, SetAllowedV4)
	assert.Contains(t, script, SetAllowedV6)

	// No v6 resolvers were supplied, so the v6 DNS rule has no set to
	// match against and must not appear.
	assert.NotContains(t, script, "@"+SetDNSV6)
}

func TestRenderPolicyPortRestriction(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)
	assert.Contains(t, script, "tcp dport { 80, 443 }")
}

func TestRenderPolicyAllPorts(t *testing.T) {
	c := policy.NewCompiler()
	c.AllowAllPorts = true
	p, err := c.Compile("alice", 1000,
		[]netip.Addr{netip.MustParseAddr("10.0.0.53")},
		[]netip.Addr{netip.MustParseAddr("192.0.2.10")})
	require.NoError(t, err)

	script, err := RenderPolicy(p, "gen-1")
	require.NoError(t, err)
	assert.NotContains(t, script, "tcp dport {")
	assert.Contains(t, script, "@"+SetAllowedV4)
}

func TestRenderPolicyRejectsBadShape(t *testing.T) {
	p := testPolicy(t)

	// Drop the terminal reject.
	truncated := &policy.PolicySet{
		User:  p.User,
		UID:   p.UID,
		Table: p.Table,
		Rules: p.Rules[:len(p.Rules)-1],
	}
	_, err := RenderPolicy(truncated, "gen-1")
	assert.Error(t, err)
}

func TestRenderPolicyGenerationComment(t *testing.T) {
	p := testPolicy(t)
	script, err := RenderPolicy(p, "3f2c9a")
	require.NoError(t, err)
	assert.Contains(t, script, "3f2c9a")
}

func TestRenderRemoval(t *testing.T) {
	script, err := RenderRemoval("cordon_alice")
	require.NoError(t, err)
	assert.Contains(t, script, "delete table inet cordon_alice")

	_, err = RenderRemoval("bad name; rm -rf /")
	assert.Error(t, err)
}

func TestJoinPorts(t *testing.T) {
	assert.Equal(t, "80, 443", joinPorts([]uint16{80, 443}))
	assert.Equal(t, "8080", joinPorts([]uint16{8080}))
}
