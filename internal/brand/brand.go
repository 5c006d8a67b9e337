// Package brand provides centralized naming constants for cordon.
// Paths, unit names and the nftables table prefix all come from one place,
// loaded from brand.json at compile time via go:embed so other tooling can
// read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all naming information.
type Brand struct {
	Name                string `json:"name"`
	LowerName           string `json:"lowerName"`
	Description         string `json:"description"`
	ConfigEnvPrefix     string `json:"configEnvPrefix"`
	DefaultConfigDir    string `json:"defaultConfigDir"`
	DefaultStateDir     string `json:"defaultStateDir"`
	DefaultLogDir       string `json:"defaultLogDir"`
	BinaryName          string `json:"binaryName"`
	ConfigFileName      string `json:"configFileName"`
	TablePrefix         string `json:"tablePrefix"`
	RefreshUnitTemplate string `json:"refreshUnitTemplate"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir = b.DefaultStateDir
	DefaultLogDir = b.DefaultLogDir
	BinaryName = b.BinaryName
	ConfigFileName = b.ConfigFileName
	TablePrefix = b.TablePrefix
	RefreshUnitTemplate = b.RefreshUnitTemplate
}

// Exported variables for convenience.
var (
	Name                string
	LowerName           string
	Description         string
	ConfigEnvPrefix     string
	DefaultConfigDir    string
	DefaultStateDir     string
	DefaultLogDir       string
	BinaryName          string
	ConfigFileName      string
	TablePrefix         string
	RefreshUnitTemplate string

	// Version is set at build time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: CORDON_STATE_DIR > CORDON_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: CORDON_CONFIG_DIR > CORDON_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// DefaultConfigPath returns the full path of the default config file.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
