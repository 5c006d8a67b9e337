package enforce

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"grimm.is/cordon/internal/policy"
)

// Named sets inside each per-user table. Destination and DNS addresses live
// in sets rather than inline so drift detection can read the live elements
// back over netlink.
const (
	SetAllowedV4 = "allowed_v4"
	SetAllowedV6 = "allowed_v6"
	SetDNSV4     = "dns_v4"
	SetDNSV6     = "dns_v6"

	outputChain = "output"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func isValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// ScriptBuilder builds nftables scripts for atomic application.
type ScriptBuilder struct {
	lines     []string
	tableName string
	family    string
}

// NewScriptBuilder creates a new script builder for the given table.
func NewScriptBuilder(tableName string) *ScriptBuilder {
	return &ScriptBuilder{
		tableName: tableName,
		family:    "inet",
		lines:     make([]string, 0, 32),
	}
}

// AddLine adds a raw nft command line to the script.
func (b *ScriptBuilder) AddLine(line string) {
	b.lines = append(b.lines, line)
}

// AddTable adds a table creation command, optionally with a comment.
func (b *ScriptBuilder) AddTable(comment string) {
	if comment == "" {
		b.AddLine(fmt.Sprintf("add table %s %s", b.family, b.tableName))
		return
	}
	b.AddLine(fmt.Sprintf("add table %s %s { comment %q; }", b.family, b.tableName, comment))
}

// AddSwapPrelude makes the rest of the script replace any existing table of
// the same name in the same transaction. The add before the delete makes the
// delete succeed whether or not the table exists, which is what keeps apply
// and remove idempotent.
func (b *ScriptBuilder) AddSwapPrelude() {
	b.AddLine(fmt.Sprintf("add table %s %s", b.family, b.tableName))
	b.AddLine(fmt.Sprintf("delete table %s %s", b.family, b.tableName))
}

// AddBaseChain adds the output-hook chain.
func (b *ScriptBuilder) AddBaseChain(priority int) {
	b.AddLine(fmt.Sprintf("add chain %s %s %s { type filter hook output priority %d; policy accept; }",
		b.family, b.tableName, outputChain, priority))
}

// AddAddrSet adds a named address set populated with elems.
func (b *ScriptBuilder) AddAddrSet(name, addrType string, elems []netip.Addr) {
	b.AddLine(fmt.Sprintf("add set %s %s %s { type %s; }", b.family, b.tableName, name, addrType))
	if len(elems) == 0 {
		return
	}
	strs := make([]string, 0, len(elems))
	for _, a := range elems {
		strs = append(strs, a.String())
	}
	b.AddLine(fmt.Sprintf("add element %s %s %s { %s }", b.family, b.tableName, name, strings.Join(strs, ", ")))
}

// AddRule adds a rule to the output chain.
func (b *ScriptBuilder) AddRule(ruleExpr string) {
	b.AddLine(fmt.Sprintf("add rule %s %s %s %s", b.family, b.tableName, outputChain, ruleExpr))
}

// Build returns the complete script.
func (b *ScriptBuilder) Build() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// RenderPolicy renders a compiled PolicySet into an atomic replacement
// script. The comment carries the generation id so a kernel dump identifies
// which apply produced the live ruleset.
func RenderPolicy(p *policy.PolicySet, generationID string) (string, error) {
	if !isValidIdentifier(p.Table) {
		return "", fmt.Errorf("invalid table name %q", p.Table)
	}
	if err := checkShape(p); err != nil {
		return "", err
	}

	b := NewScriptBuilder(p.Table)
	b.AddSwapPrelude()
	b.AddTable(fmt.Sprintf("cordon uid %d gen %s", p.UID, generationID))
	b.AddBaseChain(0)

	// Everything below the guard applies to the restricted uid only.
	b.AddRule(fmt.Sprintf("meta skuid != %d accept", p.UID))

	for _, r := range p.Rules {
		switch r.Match {
		case policy.MatchLoopback:
			b.AddRule(`oifname "lo" accept`)
		case policy.MatchEstablished:
			b.AddRule("ct state established,related accept")
		case policy.MatchDNS:
			v4, v6 := splitFamilies(r.Addrs)
			if len(v4) > 0 {
				b.AddAddrSet(SetDNSV4, "ipv4_addr", v4)
				b.AddRule(fmt.Sprintf("ip daddr @%s udp dport 53 accept", SetDNSV4))
				b.AddRule(fmt.Sprintf("ip daddr @%s tcp dport 53 accept", SetDNSV4))
			}
			if len(v6) > 0 {
				b.AddAddrSet(SetDNSV6, "ipv6_addr", v6)
				b.AddRule(fmt.Sprintf("ip6 daddr @%s udp dport 53 accept", SetDNSV6))
				b.AddRule(fmt.Sprintf("ip6 daddr @%s tcp dport 53 accept", SetDNSV6))
			}
		case policy.MatchDestination:
			v4, v6 := splitFamilies(r.Addrs)
			portClause := ""
			if len(r.Ports) > 0 {
				portClause = fmt.Sprintf(" tcp dport { %s }", joinPorts(r.Ports))
			}
			if len(v4) > 0 {
				b.AddAddrSet(SetAllowedV4, "ipv4_addr", v4)
				b.AddRule(fmt.Sprintf("ip daddr @%s%s accept", SetAllowedV4, portClause))
			}
			if len(v6) > 0 {
				b.AddAddrSet(SetAllowedV6, "ipv6_addr", v6)
				b.AddRule(fmt.Sprintf("ip6 daddr @%s%s accept", SetAllowedV6, portClause))
			}
		case policy.MatchDefault:
			b.AddRule("counter reject")
		default:
			return "", fmt.Errorf("unknown rule match %q", r.Match)
		}
	}

	return b.Build(), nil
}

// checkShape enforces the PolicySet structural invariants before anything is
// rendered: exactly one default rule, at the end, rejecting; DNS and
// established rules ahead of destination rules.
func checkShape(p *policy.PolicySet) error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("empty policy set")
	}
	last := p.Rules[len(p.Rules)-1]
	if last.Match != policy.MatchDefault || last.Action != policy.Reject {
		return fmt.Errorf("policy set must terminate in a default reject")
	}
	sawDest := false
	for i, r := range p.Rules {
		if r.Match == policy.MatchDefault && i != len(p.Rules)-1 {
			return fmt.Errorf("default rule before end of policy set")
		}
		if r.Match == policy.MatchDestination {
			sawDest = true
		}
		if sawDest && (r.Match == policy.MatchDNS || r.Match == policy.MatchEstablished) {
			return fmt.Errorf("%s rule after destination rules", r.Match)
		}
	}
	return nil
}

// RenderRemoval renders a script that deletes the user's table, succeeding
// whether or not it exists.
func RenderRemoval(tableName string) (string, error) {
	if !isValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	b := NewScriptBuilder(tableName)
	b.AddSwapPrelude()
	return b.Build(), nil
}

func splitFamilies(addrs []netip.Addr) (v4, v6 []netip.Addr) {
	for _, a := range addrs {
		if a.Unmap().Is4() {
			v4 = append(v4, a.Unmap())
		} else {
			v6 = append(v6, a)
		}
	}
	return v4, v6
}

func joinPorts(ports []uint16) string {
	strs := make([]string, 0, len(ports))
	for _, p := range ports {
		strs = append(strs, fmt.Sprintf("%d", p))
	}
	return strings.Join(strs, ", ")
}
