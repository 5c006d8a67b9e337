// Package whitelist parses the domain whitelist and dependency hint files.
//
// Both files share one format: one bare domain per line, blank lines and
// #-prefixed comments ignored. Entries are normalized (lowercased, scheme,
// path, port and leading dot stripped) so downstream consumers only ever see
// canonical names.
package whitelist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

var domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Whitelist is a set of normalized domain names.
type Whitelist struct {
	entries map[string]struct{}
}

// New creates a whitelist from the given domains, normalizing each.
// Invalid entries are silently dropped; use Add to observe per-entry errors.
func New(domains ...string) *Whitelist {
	w := &Whitelist{entries: make(map[string]struct{})}
	for _, d := range domains {
		w.Add(d) //nolint:errcheck // constructor is best-effort
	}
	return w
}

// Normalize canonicalizes a raw entry: lowercase, strip scheme, leading dot,
// trailing path and port. Returns an error if what remains is not a domain.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}
	if !domainRegex.MatchString(s) {
		return "", fmt.Errorf("invalid domain %q", raw)
	}
	return s, nil
}

// Add normalizes and inserts a domain.
func (w *Whitelist) Add(raw string) error {
	d, err := Normalize(raw)
	if err != nil {
		return err
	}
	w.entries[d] = struct{}{}
	return nil
}

// Contains reports whether the normalized form of raw is in the set.
func (w *Whitelist) Contains(raw string) bool {
	d, err := Normalize(raw)
	if err != nil {
		return false
	}
	_, ok := w.entries[d]
	return ok
}

// Len returns the number of entries.
func (w *Whitelist) Len() int {
	return len(w.entries)
}

// Domains returns the entries sorted, for deterministic iteration.
func (w *Whitelist) Domains() []string {
	out := make([]string, 0, len(w.entries))
	for d := range w.entries {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Load reads a whitelist file. A missing hints file is fine for callers that
// treat hints as optional; they should check os.IsNotExist themselves.
func Load(path string) (*Whitelist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads whitelist entries from r. Unparseable lines are skipped rather
// than failing the whole file; a hand-edited list with one typo should not
// take the restriction down.
func Parse(r io.Reader) (*Whitelist, error) {
	w := New()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Tolerate hosts-file style lines ("0.0.0.0 domain").
		fields := strings.Fields(line)
		if len(fields) > 1 {
			line = fields[len(fields)-1]
		}
		w.Add(line) //nolint:errcheck // skip malformed lines
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read whitelist: %w", err)
	}
	return w, nil
}
