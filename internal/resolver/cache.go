package resolver

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
)

// Cache persists the last successful address set per user so a DNS outage
// cannot degrade an active restriction into a full-deny lockout.
//
// The on-disk format is one IP literal per line; writes go through a temp
// file and rename so a crashed refresh never leaves a truncated cache.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir (created on first store).
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) path(user string) string {
	return filepath.Join(c.dir, user+".addrs")
}

// Load reads the cached addresses for user. Unparseable lines are skipped.
func (c *Cache) Load(user string) ([]netip.Addr, error) {
	f, err := os.Open(c.path(user))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []netip.Addr
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if addr, err := netip.ParseAddr(line); err == nil {
			addrs = append(addrs, addr.Unmap())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read address cache: %w", err)
	}
	sortAddrs(addrs)
	return addrs, nil
}

// Store atomically replaces the cached addresses for user.
func (c *Cache) Store(user string, addrs []netip.Addr) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	var sb strings.Builder
	for _, a := range addrs {
		sb.WriteString(a.String())
		sb.WriteByte('\n')
	}

	path := c.path(user)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write address cache: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Remove deletes the cache for user. Missing files are fine.
func (c *Cache) Remove(user string) error {
	err := os.Remove(c.path(user))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
