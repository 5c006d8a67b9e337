package manager

import (
	"errors"
	"sort"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v2"

	"grimm.is/cordon/internal/state"
)

// Report is the status view of one user's restriction.
type Report struct {
	Username     string    `yaml:"username"`
	Active       bool      `yaml:"active"`
	Table        string    `yaml:"table"`
	Generation   string    `yaml:"generation"`
	AppliedAt    time.Time `yaml:"applied_at"`
	LastRefresh  time.Time `yaml:"last_refresh"`
	AddressCount int       `yaml:"address_count"`
	Stale        bool      `yaml:"stale,omitempty"`

	DeviceBlocked bool `yaml:"device_blocked"`

	// RulesetLive is whether the table is actually in the kernel.
	RulesetLive bool `yaml:"ruleset_live"`

	Drift *DriftReport `yaml:"drift,omitempty"`
}

// DriftReport describes a mismatch between the persisted address set and
// what the kernel is enforcing.
type DriftReport struct {
	// Missing addresses are recorded but absent from the live sets, so
	// the user is blocked from destinations they should reach.
	Missing []string `yaml:"missing,omitempty"`
	// Unexpected addresses are live but not recorded, widening egress
	// beyond the whitelist.
	Unexpected []string `yaml:"unexpected,omitempty"`
	Diff       string   `yaml:"diff,omitempty"`
}

// Status reports one user. A user with no record gets KindAlreadyInState.
func (m *Manager) Status(username string) (*Report, error) {
	rec, err := m.store.Get(username)
	if errors.Is(err, state.ErrNotFound) {
		return nil, newError(KindAlreadyInState, username, errors.New("no restriction record"))
	}
	if err != nil {
		return nil, err
	}
	return m.reportFor(rec), nil
}

// StatusAll reports every recorded user.
func (m *Manager) StatusAll() ([]*Report, error) {
	recs, err := m.store.List()
	if err != nil {
		return nil, err
	}
	reports := make([]*Report, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, m.reportFor(rec))
	}
	return reports, nil
}

func (m *Manager) reportFor(rec *state.Record) *Report {
	rep := &Report{
		Username:      rec.Username,
		Active:        rec.Active,
		Table:         rec.Table,
		Generation:    rec.GenerationID,
		AppliedAt:     rec.AppliedAt,
		LastRefresh:   rec.LastRefresh,
		AddressCount:  rec.LastAddressCount,
		Stale:         rec.Stale,
		DeviceBlocked: rec.DeviceBlocked,
	}
	if !rec.Active {
		return rep
	}

	live, err := m.engine.IsActive(rec.Table)
	if err != nil {
		m.logger.Warn("could not inspect ruleset", "table", rec.Table, "error", err)
		return rep
	}
	rep.RulesetLive = live
	if !live {
		// The record says restricted but nothing is enforced. Everything
		// recorded is drift.
		rep.Drift = &DriftReport{Missing: sortedCopy(rec.Addresses)}
		return rep
	}

	liveAddrs, err := m.engine.LiveAddrs(rec.Table)
	if err != nil {
		m.logger.Warn("could not read live sets", "table", rec.Table, "error", err)
		return rep
	}
	liveStrs := make([]string, 0, len(liveAddrs))
	for _, a := range liveAddrs {
		liveStrs = append(liveStrs, a.String())
	}
	rep.Drift = diffAddrs(rec.Addresses, liveStrs)
	return rep
}

// diffAddrs compares recorded and live address sets. Nil means no drift.
func diffAddrs(recorded, live []string) *DriftReport {
	recSet := toSet(recorded)
	liveSet := toSet(live)

	var missing, unexpected []string
	for a := range recSet {
		if _, ok := liveSet[a]; !ok {
			missing = append(missing, a)
		}
	}
	for a := range liveSet {
		if _, ok := recSet[a]; !ok {
			unexpected = append(unexpected, a)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)

	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        lines(recorded),
		B:        lines(live),
		FromFile: "recorded",
		ToFile:   "live",
		Context:  2,
	})
	return &DriftReport{
		Missing:    missing,
		Unexpected: unexpected,
		Diff:       diff,
	}
}

// RenderYAML renders reports for the status command.
func RenderYAML(reports []*Report) (string, error) {
	out, err := yaml.Marshal(reports)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toSet(ss []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		set[s] = struct{}{}
	}
	return set
}

func lines(ss []string) []string {
	sorted := sortedCopy(ss)
	out := make([]string, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, s+"\n")
	}
	return out
}

func sortedCopy(ss []string) []string {
	out := make([]string, len(ss))
	copy(out, ss)
	sort.Strings(out)
	return out
}
