// Package manager orchestrates restrict and unrestrict across the
// enforcement engine, the device controller, the state store, and the
// refresh timers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"

	"grimm.is/cordon/internal/clock"
	"grimm.is/cordon/internal/config"
	"grimm.is/cordon/internal/device"
	"grimm.is/cordon/internal/enforce"
	"grimm.is/cordon/internal/logging"
	"grimm.is/cordon/internal/policy"
	"grimm.is/cordon/internal/refresh"
	"grimm.is/cordon/internal/resolver"
	"grimm.is/cordon/internal/state"
	"grimm.is/cordon/internal/systemd"
	"grimm.is/cordon/internal/whitelist"
)

// Manager ties the restriction workflow together.
type Manager struct {
	cfg      *config.Config
	store    *state.Store
	resolver refresh.AddressResolver
	engine   *enforce.Engine
	devices  *device.Controller
	units    *systemd.Manager
	cache    *resolver.Cache
	stateDir string
	logger   *logging.Logger

	// LookupUID resolves a username to its uid. Defaults to the system
	// user database; tests substitute a map.
	LookupUID func(username string) (uint32, error)
}

// Options collects the manager's collaborators. Units and Cache may be nil
// when timers or cache cleanup are not wanted.
type Options struct {
	Config   *config.Config
	Store    *state.Store
	Resolver refresh.AddressResolver
	Engine   *enforce.Engine
	Devices  *device.Controller
	Units    *systemd.Manager
	Cache    *resolver.Cache
	StateDir string
	Logger   *logging.Logger
}

// New creates a manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("manager")
	}
	return &Manager{
		cfg:       opts.Config,
		store:     opts.Store,
		resolver:  opts.Resolver,
		engine:    opts.Engine,
		devices:   opts.Devices,
		units:     opts.Units,
		cache:     opts.Cache,
		stateDir:  opts.StateDir,
		logger:    logger,
		LookupUID: systemLookupUID,
	}
}

func systemLookupUID(username string) (uint32, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	return uint32(uid), nil
}

// Restrict places a user under egress restriction and blocks removable
// storage. Restricting an already restricted user fails with
// KindAlreadyInState and changes nothing.
func (m *Manager) Restrict(ctx context.Context, username string) error {
	uid, err := m.LookupUID(username)
	if err != nil {
		return newError(KindUserNotFound, username, err)
	}

	if m.cfg.WhitelistFile == "" {
		return newError(KindWhitelistMissing, username, errors.New("no whitelist file configured"))
	}
	wl, err := whitelist.Load(m.cfg.WhitelistFile)
	if err != nil {
		return newError(KindWhitelistMissing, username, err)
	}

	if rec, err := m.store.Get(username); err == nil && rec.Active {
		return newError(KindAlreadyInState, username, errors.New("restriction already active"))
	}

	// Resolve before taking the lock. DNS can be slow and a held lock
	// would stall a concurrent unrestrict or timer refresh into
	// LockContention.
	result, err := m.resolve(ctx, username, wl)
	if err != nil {
		return newError(KindResolutionExhausted, username, err)
	}

	lock, err := state.AcquireUserLock(m.stateDir, username, config.DefaultLockTimeout)
	if err != nil {
		if errors.Is(err, state.ErrLockHeld) {
			return newError(KindLockContention, username, err)
		}
		return newError(KindEnforcementFailed, username, err)
	}
	defer lock.Release()

	// Re-check under the lock; a concurrent restrict may have won while
	// we were resolving.
	if rec, err := m.store.Get(username); err == nil && rec.Active {
		return newError(KindAlreadyInState, username, errors.New("restriction already active"))
	}

	resolverAddrs := resolver.ServerAddrsFromEndpoints(m.resolver.Servers())
	compiler := policy.NewCompiler()
	compiler.AllowAllPorts = m.cfg.AllowAllPorts
	p, err := compiler.Compile(username, uid, resolverAddrs, result.Addrs())
	if err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	h, err := m.engine.Apply(p)
	if err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	if err := m.blockDevices(ctx, username); err != nil {
		// Keep restrict all or nothing: tear the fresh ruleset back down.
		if rmErr := m.engine.Remove(h.Table); rmErr != nil {
			m.logger.Error("rollback failed, ruleset left in place",
				"user", username, "table", h.Table, "error", rmErr)
		}
		return newError(KindDeviceBlockFailed, username, err)
	}

	rec := &state.Record{
		Username:         username,
		UID:              uid,
		Active:           true,
		Table:            h.Table,
		GenerationID:     h.GenerationID,
		AppliedAt:        h.AppliedAt,
		LastRefresh:      clock.Now(),
		LastAddressCount: result.Count(),
		Stale:            result.Stale,
		DeviceBlocked:    true,
		Addresses:        addrStrings(result),
	}
	if err := m.store.Save(rec); err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	if m.units != nil {
		if err := m.units.EnableRefreshTimer(ctx, username); err != nil {
			// The restriction is live; a missing timer only stops address
			// refresh, which the next manual refresh fixes.
			m.logger.Warn("refresh timer setup failed", "user", username, "error", err)
		}
	}

	m.logger.Audit("restrict", username, map[string]any{
		"uid":       uid,
		"table":     h.Table,
		"addresses": result.Count(),
	})
	return nil
}

// Unrestrict removes a user's restriction. Unrestricting a user with no
// restriction fails with KindAlreadyInState.
func (m *Manager) Unrestrict(ctx context.Context, username string) error {
	lock, err := state.AcquireUserLock(m.stateDir, username, config.DefaultLockTimeout)
	if err != nil {
		if errors.Is(err, state.ErrLockHeld) {
			return newError(KindLockContention, username, err)
		}
		return newError(KindEnforcementFailed, username, err)
	}
	defer lock.Release()

	rec, err := m.store.Get(username)
	if errors.Is(err, state.ErrNotFound) {
		return newError(KindAlreadyInState, username, errors.New("no restriction to remove"))
	}
	if err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	if m.units != nil {
		if err := m.units.DisableRefreshTimer(ctx, username); err != nil {
			m.logger.Warn("refresh timer teardown failed", "user", username, "error", err)
		}
	}

	if err := m.engine.Remove(rec.Table); err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	if m.devices != nil {
		if err := m.devices.UnblockUser(ctx, username); err != nil {
			return newError(KindDeviceBlockFailed, username, err)
		}
	}

	if err := m.store.Delete(username); err != nil {
		return newError(KindEnforcementFailed, username, err)
	}

	if err := m.maybeUnblockMachine(ctx); err != nil {
		return newError(KindDeviceBlockFailed, username, err)
	}

	if m.cache != nil {
		if err := m.cache.Remove(username); err != nil {
			m.logger.Debug("cache cleanup failed", "user", username, "error", err)
		}
	}

	m.logger.Audit("unrestrict", username, map[string]any{"table": rec.Table})
	return nil
}

func (m *Manager) resolve(ctx context.Context, username string, wl *whitelist.Whitelist) (*resolver.Result, error) {
	hints := m.loadHints()
	retryCfg := refresh.DefaultRetryConfig()
	if m.cfg.ResolveRetries > 0 {
		retryCfg.MaxAttempts = m.cfg.ResolveRetries
	}
	return refresh.RetryWithResult(ctx, retryCfg, func() (*resolver.Result, error) {
		return m.resolver.Resolve(ctx, username, wl, hints)
	})
}

func (m *Manager) loadHints() []string {
	return whitelist.LoadHints(m.cfg.DependencyHintsFile)
}

func (m *Manager) blockDevices(ctx context.Context, username string) error {
	if m.devices == nil {
		return nil
	}
	if err := m.devices.BlockUser(ctx, username); err != nil {
		return err
	}
	if m.cfg.IsDedicatedWorkstation() && !m.devices.MachineBlocked() {
		if err := m.devices.BlockMachine(ctx); err != nil {
			return err
		}
	}
	return nil
}

// maybeUnblockMachine lifts the machine wide lockout once no restricted
// user needs it anymore.
func (m *Manager) maybeUnblockMachine(ctx context.Context) error {
	if m.devices == nil || !m.devices.MachineBlocked() {
		return nil
	}
	n, err := m.store.CountDeviceBlocked()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return m.devices.UnblockMachine(ctx)
}

func addrStrings(result *resolver.Result) []string {
	addrs := result.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
