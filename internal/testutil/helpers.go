package testutil

import (
	"os"
	"testing"
)

// RequireKernel skips the test unless the CORDON_KERNEL_TEST environment
// variable is set. Tests that touch real nftables, udev, or systemd state
// only run in a throwaway VM.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv("CORDON_KERNEL_TEST") == "" {
		t.Skip("Skipping test: requires CORDON_KERNEL_TEST environment")
	}
}

// RequireRoot skips the test when not running as root.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
