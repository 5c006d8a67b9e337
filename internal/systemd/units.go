package systemd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"grimm.is/cordon/internal/brand"
	"grimm.is/cordon/internal/logging"
)

const defaultUnitDir = "/etc/systemd/system"

const serviceUnit = `[Unit]
Description=Whitelist address refresh for %%i
After=network-online.target

[Service]
Type=oneshot
ExecStart=/usr/local/bin/%s refresh %%i
`

const timerUnit = `[Unit]
Description=Periodic whitelist refresh for %%i

[Timer]
OnBootSec=5min
OnUnitActiveSec=%s

[Install]
WantedBy=timers.target
`

// Manager installs the refresh timer template and enables per-user
// instances of it.
type Manager struct {
	client Client
	logger *logging.Logger

	// Overridable for tests.
	UnitDir string
	// Timer cadence once the first run has fired.
	RefreshInterval time.Duration
}

// NewManager creates a unit manager.
func NewManager(client Client, interval time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default().WithComponent("systemd")
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Manager{
		client:          client,
		logger:          logger,
		UnitDir:         defaultUnitDir,
		RefreshInterval: interval,
	}
}

func refreshUnitBase() string {
	return brand.RefreshUnitTemplate
}

// TimerName returns the timer instance unit for one user.
func TimerName(username string) string {
	return fmt.Sprintf("%s%s.timer", refreshUnitBase(), username)
}

func serviceTemplateName() string {
	return refreshUnitBase() + ".service"
}

func timerTemplateName() string {
	return refreshUnitBase() + ".timer"
}

// InstallTemplates writes the template units and reloads systemd. Existing
// templates are rewritten so interval changes take effect.
func (m *Manager) InstallTemplates(ctx context.Context) error {
	svc := filepath.Join(m.UnitDir, serviceTemplateName())
	svcBody := fmt.Sprintf(serviceUnit, brand.BinaryName)
	if err := os.WriteFile(svc, []byte(svcBody), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", svc, err)
	}
	tmr := filepath.Join(m.UnitDir, timerTemplateName())
	body := fmt.Sprintf(timerUnit, formatInterval(m.RefreshInterval))
	if err := os.WriteFile(tmr, []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmr, err)
	}
	if err := m.client.Reload(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// EnableRefreshTimer installs templates if needed and starts the user's
// timer instance.
func (m *Manager) EnableRefreshTimer(ctx context.Context, username string) error {
	if err := m.InstallTemplates(ctx); err != nil {
		return err
	}
	timer := TimerName(username)
	if err := m.client.EnableUnit(ctx, timer); err != nil {
		return fmt.Errorf("enabling %s: %w", timer, err)
	}
	if err := m.client.StartUnit(ctx, timer); err != nil {
		return fmt.Errorf("starting %s: %w", timer, err)
	}
	m.logger.Info("refresh timer enabled", "user", username, "timer", timer)
	return nil
}

// DisableRefreshTimer stops and disables the user's timer instance. A
// missing timer is fine.
func (m *Manager) DisableRefreshTimer(ctx context.Context, username string) error {
	timer := TimerName(username)
	if err := m.client.StopUnit(ctx, timer); err != nil {
		m.logger.Debug("stopping timer", "timer", timer, "error", err)
	}
	if err := m.client.DisableUnit(ctx, timer); err != nil {
		m.logger.Debug("disabling timer", "timer", timer, "error", err)
	}
	m.logger.Info("refresh timer disabled", "user", username, "timer", timer)
	return nil
}

// RemoveTemplates deletes the template units when no restrictions remain.
func (m *Manager) RemoveTemplates(ctx context.Context) error {
	for _, name := range []string{serviceTemplateName(), timerTemplateName()} {
		p := filepath.Join(m.UnitDir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return m.client.Reload(ctx)
}

// formatInterval renders a duration in systemd time span syntax.
func formatInterval(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dmin", d/time.Minute)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
