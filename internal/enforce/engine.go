package enforce

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"grimm.is/cordon/internal/clock"
	"grimm.is/cordon/internal/logging"
	"grimm.is/cordon/internal/policy"
)

// Handle describes an applied ruleset generation for one user.
type Handle struct {
	User         string    `json:"user"`
	UID          uint32    `json:"uid"`
	Table        string    `json:"table"`
	GenerationID string    `json:"generation_id"`
	AppliedAt    time.Time `json:"applied_at"`
	RuleCount    int       `json:"rule_count"`
	AddressCount int       `json:"address_count"`
}

// Inspector reads live firewall state for drift checks. The real
// implementation talks netlink; tests substitute a mock.
type Inspector interface {
	// TableExists reports whether the named inet table is present.
	TableExists(name string) (bool, error)
	// SetAddrs returns the elements of a named address set in the table.
	SetAddrs(table, set string) ([]netip.Addr, error)
}

// Engine applies and removes per-user rulesets.
type Engine struct {
	applier   *AtomicApplier
	inspector Inspector
	logger    *logging.Logger
}

// NewEngine creates an engine. A nil runner uses the real nft binary and
// a nil inspector uses the netlink-backed one.
func NewEngine(runner CommandRunner, inspector Inspector, logger *logging.Logger) *Engine {
	if inspector == nil {
		inspector = newSystemInspector()
	}
	if logger == nil {
		logger = logging.Default().WithComponent("enforce")
	}
	return &Engine{
		applier:   NewAtomicApplier(runner),
		inspector: inspector,
		logger:    logger,
	}
}

// Apply replaces the user's ruleset with the compiled policy in a single
// transaction. The returned handle identifies the new generation.
func (e *Engine) Apply(p *policy.PolicySet) (*Handle, error) {
	genID := uuid.NewString()
	script, err := RenderPolicy(p, genID)
	if err != nil {
		return nil, fmt.Errorf("rendering policy for %s: %w", p.User, err)
	}
	if err := e.applier.ApplyAtomically(script); err != nil {
		return nil, fmt.Errorf("applying ruleset for %s: %w", p.User, err)
	}
	h := &Handle{
		User:         p.User,
		UID:          p.UID,
		Table:        p.Table,
		GenerationID: genID,
		AppliedAt:    clock.Now(),
		RuleCount:    len(p.Rules),
		AddressCount: p.AddressCount(),
	}
	e.logger.Info("ruleset applied",
		"user", p.User,
		"table", p.Table,
		"generation", genID,
		"addresses", h.AddressCount)
	return h, nil
}

// Remove deletes the user's table. Removing a table that does not exist
// is not an error, so repeated removal converges.
func (e *Engine) Remove(table string) error {
	exists, err := e.inspector.TableExists(table)
	if err != nil {
		return fmt.Errorf("checking table %s: %w", table, err)
	}
	if !exists {
		e.logger.Debug("table already absent", "table", table)
		return nil
	}
	script, err := RenderRemoval(table)
	if err != nil {
		return fmt.Errorf("rendering removal for %s: %w", table, err)
	}
	if err := e.applier.ApplyScript(script); err != nil {
		return fmt.Errorf("removing table %s: %w", table, err)
	}
	e.logger.Info("ruleset removed", "table", table)
	return nil
}

// IsActive reports whether the user's table is live in the kernel.
func (e *Engine) IsActive(table string) (bool, error) {
	return e.inspector.TableExists(table)
}

// LiveAddrs returns the destination addresses currently loaded in the
// user's allow sets, merged across families.
func (e *Engine) LiveAddrs(table string) ([]netip.Addr, error) {
	v4, err := e.inspector.SetAddrs(table, SetAllowedV4)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", SetAllowedV4, err)
	}
	v6, err := e.inspector.SetAddrs(table, SetAllowedV6)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", SetAllowedV6, err)
	}
	return append(v4, v6...), nil
}
