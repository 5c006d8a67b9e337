package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.Info("restriction applied", "user", "alice", "addresses", 12)

	line := buf.String()
	assert.Contains(t, line, "cordon[")
	assert.Contains(t, line, "[info]")
	assert.Contains(t, line, "restriction applied")
	assert.Contains(t, line, "user=alice")
	assert.Contains(t, line, "addresses=12")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.Warn("startup", "note", "no config found")

	assert.Contains(t, buf.String(), `note="no config found"`)
}

func TestComponentPromotedIntoHeader(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.WithComponent("enforce").Info("table created", "table", "cordon_alice")

	line := buf.String()
	assert.Contains(t, line, "[info] enforce: table created")
	assert.NotContains(t, line, "component=")
	assert.Contains(t, line, "table=cordon_alice")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf})

	log.Info("quiet")
	assert.Empty(t, buf.String())

	log.SetLevel(LevelDebug)
	log.Debug("loud")
	assert.Contains(t, buf.String(), "[debug]")
	assert.Equal(t, LevelDebug, log.GetLevel())
}

func TestWithUser(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.WithUser("bob").Info("refreshed")

	assert.Contains(t, buf.String(), "user=bob")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	log.Info("applied", "user", "alice")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "applied", m["msg"])
	assert.Equal(t, "alice", m["user"])
}

func TestAuditAlwaysCarriesMarkers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.Audit("restrict", "alice", map[string]any{"table": "cordon_alice"})

	line := buf.String()
	assert.Contains(t, line, "AUDIT")
	assert.Contains(t, line, "audit=true")
	assert.Contains(t, line, "action=restrict")
	assert.Contains(t, line, "resource=alice")
	assert.Contains(t, line, "table=cordon_alice")
}
