package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"grimm.is/cordon/internal/manager"
)

// RunRestrict places a user under restriction.
func RunRestrict(configPath, username string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Restrict(ctx, username); err != nil {
		if manager.IsKind(err, manager.KindAlreadyInState) {
			fmt.Printf("%s is already restricted\n", username)
			return nil
		}
		return err
	}
	fmt.Printf("%s is now restricted\n", username)
	return nil
}

// RunUnrestrict removes a user's restriction.
func RunUnrestrict(configPath, username string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Unrestrict(ctx, username); err != nil {
		if manager.IsKind(err, manager.KindAlreadyInState) {
			fmt.Printf("%s is not restricted\n", username)
			return nil
		}
		return err
	}
	fmt.Printf("%s is no longer restricted\n", username)
	return nil
}

// ExitCode maps an error to a process exit code. Retryable failures get a
// distinct code so wrapper scripts can re-run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var merr *manager.Error
	if errors.As(err, &merr) && merr.Retryable() {
		return 2
	}
	return 1
}

// Fail prints an error and exits with its mapped code.
func Fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitCode(err))
}
