package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/cordon/internal/manager"
	"grimm.is/cordon/internal/resolver"
	"grimm.is/cordon/internal/state"
)

// RunRefresh re-resolves and re-applies one user's ruleset. The systemd
// timer instances invoke this.
func RunRefresh(configPath, username string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.refresher.RefreshUser(ctx, username); err != nil {
		err = classifyRefreshError(username, err)
		if manager.IsKind(err, manager.KindAlreadyInState) {
			fmt.Printf("%s is not restricted\n", username)
			return nil
		}
		return err
	}
	fmt.Printf("refreshed %s\n", username)
	return nil
}

// classifyRefreshError maps refresher failures onto the manager error
// kinds so ExitCode can tell retryable failures apart.
func classifyRefreshError(username string, err error) error {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return manager.NewError(manager.KindAlreadyInState, username, err)
	case errors.Is(err, state.ErrLockHeld):
		return manager.NewError(manager.KindLockContention, username, err)
	case errors.Is(err, resolver.ErrNoAddresses):
		return manager.NewError(manager.KindResolutionExhausted, username, err)
	default:
		// Refresh runs against an already live restriction; anything else
		// here is transient enforcement trouble worth retrying.
		return manager.NewError(manager.KindEnforcementFailed, username, err)
	}
}

// RunDaemon refreshes all restricted users on a fixed interval until
// interrupted. For hosts where the systemd timers are not wanted.
func RunDaemon(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	err = a.refresher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
