// Package refresh re-resolves whitelist addresses and swaps refreshed
// rulesets in. Resolution happens before the user's lock is taken so slow
// DNS never blocks a concurrent unrestrict.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"grimm.is/cordon/internal/clock"
	"grimm.is/cordon/internal/config"
	"grimm.is/cordon/internal/enforce"
	"grimm.is/cordon/internal/logging"
	"grimm.is/cordon/internal/policy"
	"grimm.is/cordon/internal/resolver"
	"grimm.is/cordon/internal/state"
	"grimm.is/cordon/internal/whitelist"
)

// AddressResolver is what a refresh cycle needs from the DNS side. The
// resolver package provides the real implementation.
type AddressResolver interface {
	Resolve(ctx context.Context, user string, wl *whitelist.Whitelist, hints []string) (*resolver.Result, error)
	Servers() []string
}

// Refresher runs refresh cycles for restricted users.
type Refresher struct {
	cfg      *config.Config
	store    *state.Store
	resolver AddressResolver
	engine   *enforce.Engine
	stateDir string
	logger   *logging.Logger
}

// New creates a refresher.
func New(cfg *config.Config, store *state.Store, res AddressResolver, engine *enforce.Engine, stateDir string, logger *logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.Default().WithComponent("refresh")
	}
	return &Refresher{
		cfg:      cfg,
		store:    store,
		resolver: res,
		engine:   engine,
		stateDir: stateDir,
		logger:   logger,
	}
}

// RefreshUser runs one refresh cycle for a user. The user must have an
// active restriction; a vanished or inactive record aborts quietly since
// an unrestrict won the race.
func (r *Refresher) RefreshUser(ctx context.Context, username string) error {
	rec, err := r.store.Get(username)
	if err != nil {
		return fmt.Errorf("loading record for %s: %w", username, err)
	}
	if !rec.Active {
		r.logger.Debug("skipping refresh, restriction inactive", "user", username)
		return nil
	}

	// A missing whitelist is fatal on first restrict, not here. Refresh
	// with an empty list instead: the resolver's zero-address path then
	// serves the cached set as stale, keeping the restriction enforced
	// until the operator restores the file.
	wl, err := whitelist.Load(r.cfg.WhitelistFile)
	var hints []string
	if err != nil {
		r.logger.Warn("whitelist unreadable, refreshing from cache",
			"user", username, "path", r.cfg.WhitelistFile, "error", err)
		wl = whitelist.New()
	} else {
		hints = whitelist.LoadHints(r.cfg.DependencyHintsFile)
	}

	retryCfg := DefaultRetryConfig()
	if r.cfg.ResolveRetries > 0 {
		retryCfg.MaxAttempts = r.cfg.ResolveRetries
	}
	result, err := RetryWithResult(ctx, retryCfg, func() (*resolver.Result, error) {
		return r.resolver.Resolve(ctx, username, wl, hints)
	})
	if err != nil {
		return fmt.Errorf("resolving whitelist for %s: %w", username, err)
	}
	if result.Stale {
		r.logger.Warn("resolution came up empty, serving cached addresses",
			"user", username, "addresses", result.Count())
	}

	lock, err := state.AcquireUserLock(r.stateDir, username, config.DefaultLockTimeout)
	if err != nil {
		return fmt.Errorf("locking %s: %w", username, err)
	}
	defer lock.Release()

	// Re-read under the lock. An unrestrict may have completed while we
	// were resolving, and re-applying rules for a released user would
	// resurrect the restriction.
	rec, err = r.store.Get(username)
	if errors.Is(err, state.ErrNotFound) {
		r.logger.Info("restriction removed during refresh, aborting", "user", username)
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Active {
		return nil
	}

	resolverAddrs := resolver.ServerAddrsFromEndpoints(r.resolver.Servers())
	compiler := policy.NewCompiler()
	compiler.AllowAllPorts = r.cfg.AllowAllPorts

	p, err := compiler.Compile(username, rec.UID, resolverAddrs, result.Addrs())
	if err != nil {
		return fmt.Errorf("compiling policy for %s: %w", username, err)
	}

	h, err := r.engine.Apply(p)
	if err != nil {
		return fmt.Errorf("applying ruleset for %s: %w", username, err)
	}

	rec.Table = h.Table
	rec.GenerationID = h.GenerationID
	rec.AppliedAt = h.AppliedAt
	rec.LastRefresh = clock.Now()
	rec.LastAddressCount = result.Count()
	rec.Stale = result.Stale
	rec.Addresses = addrStrings(result.Addrs())
	if err := r.store.Save(rec); err != nil {
		return fmt.Errorf("saving record for %s: %w", username, err)
	}

	r.logger.Info("refresh complete",
		"user", username,
		"generation", h.GenerationID,
		"addresses", result.Count(),
		"stale", result.Stale)
	return nil
}

// RefreshAll refreshes every user with an active restriction. Failures are
// joined so one broken user does not starve the rest.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	recs, err := r.store.ListActive()
	if err != nil {
		return fmt.Errorf("listing restrictions: %w", err)
	}
	var errs []error
	for _, rec := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.RefreshUser(ctx, rec.Username); err != nil {
			r.logger.Error("refresh failed", "user", rec.Username, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", rec.Username, err))
		}
	}
	return errors.Join(errs...)
}

// Run refreshes all users on a fixed cadence until ctx is cancelled. This
// is the foreground alternative to the systemd timers.
func (r *Refresher) Run(ctx context.Context) error {
	interval := r.cfg.RefreshIntervalDuration()
	r.logger.Info("refresh loop started", "interval", interval)

	if err := r.RefreshAll(ctx); err != nil {
		r.logger.Error("initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshAll(ctx); err != nil {
				r.logger.Error("refresh failed", "error", err)
			}
		}
	}
}

// Engine exposes the enforcement engine for callers sharing a refresher.
func (r *Refresher) Engine() *enforce.Engine {
	return r.engine
}

func addrStrings(addrs []netip.Addr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
