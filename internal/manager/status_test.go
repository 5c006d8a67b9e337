package manager

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/cordon/internal/enforce"
	"grimm.is/cordon/internal/state"
)

func savedRecord(t *testing.T, fx *fixture, username string, addrs ...string) *state.Record {
	t.Helper()
	rec := &state.Record{
		Username:         username,
		UID:              1000,
		Active:           true,
		Table:            "cordon_" + username,
		GenerationID:     "gen-1",
		LastAddressCount: len(addrs),
		DeviceBlocked:    true,
		Addresses:        addrs,
	}
	require.NoError(t, fx.store.Save(rec))
	return rec
}

func TestStatusNoRecord(t *testing.T) {
	fx := newFixture(t, &fakeResolver{})
	_, err := fx.manager.Status("alice")
	assert.True(t, IsKind(err, KindAlreadyInState))
}

func TestStatusHealthy(t *testing.T) {
	fx := newFixture(t, &fakeResolver{})
	savedRecord(t, fx, "alice", "192.0.2.10", "192.0.2.11")

	fx.inspector.On("TableExists", "cordon_alice").Return(true, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV4).Return([]netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
		netip.MustParseAddr("192.0.2.11"),
	}, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV6).Return([]netip.Addr{}, nil)

	rep, err := fx.manager.Status("alice")
	require.NoError(t, err)
	assert.True(t, rep.Active)
	assert.True(t, rep.RulesetLive)
	assert.Nil(t, rep.Drift)
}

func TestStatusDetectsDrift(t *testing.T) {
	fx := newFixture(t, &fakeResolver{})
	savedRecord(t, fx, "alice", "192.0.2.10", "192.0.2.11")

	fx.inspector.On("TableExists", "cordon_alice").Return(true, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV4).Return([]netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
		netip.MustParseAddr("198.51.100.99"),
	}, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV6).Return([]netip.Addr{}, nil)

	rep, err := fx.manager.Status("alice")
	require.NoError(t, err)
	require.NotNil(t, rep.Drift)
	assert.Equal(t, []string{"192.0.2.11"}, rep.Drift.Missing)
	assert.Equal(t, []string{"198.51.100.99"}, rep.Drift.Unexpected)
	assert.Contains(t, rep.Drift.Diff, "-192.0.2.11")
	assert.Contains(t, rep.Drift.Diff, "+198.51.100.99")
}

func TestStatusVanishedRuleset(t *testing.T) {
	fx := newFixture(t, &fakeResolver{})
	savedRecord(t, fx, "alice", "192.0.2.10")

	fx.inspector.On("TableExists", "cordon_alice").Return(false, nil)

	rep, err := fx.manager.Status("alice")
	require.NoError(t, err)
	assert.False(t, rep.RulesetLive)
	require.NotNil(t, rep.Drift)
	assert.Equal(t, []string{"192.0.2.10"}, rep.Drift.Missing)
}

func TestStatusAll(t *testing.T) {
	fx := newFixture(t, &fakeResolver{})
	savedRecord(t, fx, "alice", "192.0.2.10")

	inactive := savedRecord(t, fx, "bob")
	inactive.Active = false
	require.NoError(t, fx.store.Save(inactive))

	fx.inspector.On("TableExists", "cordon_alice").Return(true, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV4).Return([]netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
	}, nil)
	fx.inspector.On("SetAddrs", "cordon_alice", enforce.SetAllowedV6).Return([]netip.Addr{}, nil)

	reps, err := fx.manager.StatusAll()
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, "alice", reps[0].Username)
	assert.False(t, reps[1].Active)
}

func TestRenderYAML(t *testing.T) {
	reps := []*Report{{Username: "alice", Active: true, Table: "cordon_alice"}}
	out, err := RenderYAML(reps)
	require.NoError(t, err)
	assert.Contains(t, out, "username: alice")
	assert.Contains(t, out, "table: cordon_alice")
}
