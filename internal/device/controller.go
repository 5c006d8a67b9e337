// Package device blocks removable storage for restricted users. Per-user
// blocking is a polkit rule denying udisks2 actions; on dedicated
// workstations the USB storage drivers are additionally locked out machine
// wide via modprobe and udev.
package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"grimm.is/cordon/internal/enforce"
	"grimm.is/cordon/internal/logging"
)

const (
	defaultPolkitDir   = "/etc/polkit-1/rules.d"
	defaultModprobeDir = "/etc/modprobe.d"
	defaultUdevDir     = "/etc/udev/rules.d"

	modprobeFile = "cordon-usb-storage.conf"
	udevFile     = "90-cordon-usb-block.rules"
)

var usernameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// UnitRestarter restarts a systemd unit. The systemd package provides the
// dbus-backed implementation; tests substitute a mock.
type UnitRestarter interface {
	RestartUnit(ctx context.Context, name string) error
}

// Controller manages the device block artifacts on disk.
type Controller struct {
	runner    enforce.CommandRunner
	restarter UnitRestarter
	logger    *logging.Logger

	// Overridable for tests.
	PolkitDir   string
	ModprobeDir string
	UdevDir     string
}

// NewController creates a controller using system paths.
func NewController(runner enforce.CommandRunner, restarter UnitRestarter, logger *logging.Logger) *Controller {
	if runner == nil {
		runner = &enforce.RealCommandRunner{}
	}
	if logger == nil {
		logger = logging.Default().WithComponent("device")
	}
	return &Controller{
		runner:      runner,
		restarter:   restarter,
		logger:      logger,
		PolkitDir:   defaultPolkitDir,
		ModprobeDir: defaultModprobeDir,
		UdevDir:     defaultUdevDir,
	}
}

func (c *Controller) polkitPath(username string) string {
	return filepath.Join(c.PolkitDir, fmt.Sprintf("90-cordon-%s.rules", username))
}

// BlockUser installs the per-user polkit deny rule and reloads polkit.
// Blocking an already blocked user rewrites the same rule.
func (c *Controller) BlockUser(ctx context.Context, username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	if err := writeFileAtomic(c.polkitPath(username), []byte(polkitRule(username)), 0o644); err != nil {
		return fmt.Errorf("writing polkit rule for %s: %w", username, err)
	}
	if err := c.restartPolkit(ctx); err != nil {
		return err
	}
	c.logger.Info("device access blocked", "user", username)
	return nil
}

// UnblockUser removes the per-user polkit rule. A missing rule is fine.
func (c *Controller) UnblockUser(ctx context.Context, username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	err := os.Remove(c.polkitPath(username))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing polkit rule for %s: %w", username, err)
	}
	if err := c.restartPolkit(ctx); err != nil {
		return err
	}
	c.logger.Info("device access restored", "user", username)
	return nil
}

// UserBlocked reports whether the per-user rule is on disk.
func (c *Controller) UserBlocked(username string) bool {
	_, err := os.Stat(c.polkitPath(username))
	return err == nil
}

// BlockMachine locks out the USB storage drivers machine wide. This is the
// dedicated workstation path; the caller decides when it applies.
func (c *Controller) BlockMachine(ctx context.Context) error {
	if err := writeFileAtomic(filepath.Join(c.ModprobeDir, modprobeFile), []byte(modprobeConf), 0o644); err != nil {
		return fmt.Errorf("writing modprobe config: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(c.UdevDir, udevFile), []byte(udevConf), 0o644); err != nil {
		return fmt.Errorf("writing udev rules: %w", err)
	}
	if err := c.reloadUdev(); err != nil {
		return err
	}
	// Unloading fails if a device is mounted. The install directive still
	// stops new loads, so log and continue.
	if err := c.runner.Run("modprobe", "-r", "usb-storage", "uas"); err != nil {
		c.logger.Warn("could not unload usb storage modules", "error", err)
	}
	c.logger.Info("machine wide usb storage lockout enabled")
	return nil
}

// UnblockMachine removes the machine wide lockout.
func (c *Controller) UnblockMachine(ctx context.Context) error {
	for _, p := range []string{
		filepath.Join(c.ModprobeDir, modprobeFile),
		filepath.Join(c.UdevDir, udevFile),
	} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	if err := c.reloadUdev(); err != nil {
		return err
	}
	c.logger.Info("machine wide usb storage lockout disabled")
	return nil
}

// MachineBlocked reports whether the machine wide lockout is on disk.
func (c *Controller) MachineBlocked() bool {
	_, err := os.Stat(filepath.Join(c.ModprobeDir, modprobeFile))
	return err == nil
}

func (c *Controller) restartPolkit(ctx context.Context) error {
	if c.restarter == nil {
		// Rule files are in place either way; polkit picks them up on its
		// next restart.
		c.logger.Warn("systemd unreachable, polkit rule change not applied to the live session")
		return nil
	}
	if err := c.restarter.RestartUnit(ctx, "polkit.service"); err != nil {
		return fmt.Errorf("restarting polkit: %w", err)
	}
	return nil
}

func (c *Controller) reloadUdev() error {
	if err := c.runner.Run("udevadm", "control", "--reload-rules"); err != nil {
		return fmt.Errorf("reloading udev rules: %w", err)
	}
	if err := c.runner.Run("udevadm", "trigger", "--subsystem-match=usb"); err != nil {
		return fmt.Errorf("triggering udev: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
