// Package systemd installs the per-user refresh timers and drives unit
// state over the system dbus.
package systemd

import (
	"context"
	"fmt"

	systemdDbus "github.com/coreos/go-systemd/v22/dbus"
)

// Client is the subset of systemd operations the engine needs. The dbus
// implementation is below; tests substitute a mock.
type Client interface {
	Reload(ctx context.Context) error
	StartUnit(ctx context.Context, name string) error
	StopUnit(ctx context.Context, name string) error
	RestartUnit(ctx context.Context, name string) error
	EnableUnit(ctx context.Context, name string) error
	DisableUnit(ctx context.Context, name string) error
	Close()
}

// DbusClient talks to systemd over the system bus.
type DbusClient struct {
	conn *systemdDbus.Conn
}

// NewDbusClient connects to the system bus. Requires root or a polkit
// grant for unit management.
func NewDbusClient(ctx context.Context) (*DbusClient, error) {
	conn, err := systemdDbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	return &DbusClient{conn: conn}, nil
}

func (c *DbusClient) Reload(ctx context.Context) error {
	return c.conn.ReloadContext(ctx)
}

// await blocks until the queued job finishes and checks its result. The
// channel is buffered, so abandoning it on cancellation leaks nothing.
func await(ctx context.Context, name string, ch chan string, err error) error {
	if err != nil {
		return err
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("unit %s job finished with result %q", name, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for unit %s job: %w", name, ctx.Err())
	}
}

func (c *DbusClient) StartUnit(ctx context.Context, name string) error {
	ch := make(chan string, 1)
	_, err := c.conn.StartUnitContext(ctx, name, "replace", ch)
	return await(ctx, name, ch, err)
}

func (c *DbusClient) StopUnit(ctx context.Context, name string) error {
	ch := make(chan string, 1)
	_, err := c.conn.StopUnitContext(ctx, name, "replace", ch)
	return await(ctx, name, ch, err)
}

func (c *DbusClient) RestartUnit(ctx context.Context, name string) error {
	ch := make(chan string, 1)
	_, err := c.conn.RestartUnitContext(ctx, name, "replace", ch)
	return await(ctx, name, ch, err)
}

func (c *DbusClient) EnableUnit(ctx context.Context, name string) error {
	_, _, err := c.conn.EnableUnitFilesContext(ctx, []string{name}, false, true)
	return err
}

func (c *DbusClient) DisableUnit(ctx context.Context, name string) error {
	_, err := c.conn.DisableUnitFilesContext(ctx, []string{name}, false)
	return err
}

func (c *DbusClient) Close() {
	c.conn.Close()
}
