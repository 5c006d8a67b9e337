package enforce

import "fmt"

// AtomicApplier validates and applies nft scripts. A script is a single
// transaction: either the whole ruleset replacement lands or nothing does,
// so there is never a window where the user has partial rules.
type AtomicApplier struct {
	runner CommandRunner
}

// NewAtomicApplier creates an applier using the given runner.
func NewAtomicApplier(runner CommandRunner) *AtomicApplier {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	return &AtomicApplier{runner: runner}
}

// ValidateScript validates an nft script without applying it.
func (a *AtomicApplier) ValidateScript(script string) error {
	if err := a.runner.RunInput(script, "nft", "-c", "-f", "-"); err != nil {
		return fmt.Errorf("script validation failed: %w", err)
	}
	return nil
}

// ApplyScript applies an nft script atomically.
func (a *AtomicApplier) ApplyScript(script string) error {
	if err := a.runner.RunInput(script, "nft", "-f", "-"); err != nil {
		return fmt.Errorf("script application failed: %w", err)
	}
	return nil
}

// ApplyAtomically validates and then applies a script. Validation failures
// leave the previous ruleset untouched since nothing was applied.
func (a *AtomicApplier) ApplyAtomically(script string) error {
	if err := a.ValidateScript(script); err != nil {
		return err
	}
	return a.ApplyScript(script)
}
