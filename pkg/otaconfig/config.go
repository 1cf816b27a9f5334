// Package otaconfig holds the explicit configuration struct threaded
// through every resolver component. There is no package-level singleton:
// Load returns a *Config and callers pass it to each component's
// constructor.
package otaconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otaresolve/resolver/pkg/observability"
)

// Config is the top-level configuration document.
type Config struct {
	Service       ServiceConfig        `yaml:"service"`
	Cache         CacheConfig          `yaml:"cache"`
	Upgrade       UpgradeConfig        `yaml:"upgrade"`
	Keyring       KeyringConfig        `yaml:"keyring"`
	Download      DownloadConfig       `yaml:"download"`
	Partitions    PartitionsConfig     `yaml:"partitions"`
	Installer     InstallerConfig      `yaml:"installer"`
	Observability observability.Config `yaml:"observability"`
}

// ServiceConfig names the base URL the resolver fetches channels, index,
// and keyring material from.
type ServiceConfig struct {
	Base string `yaml:"base"`
}

// CacheConfig names the on-disk cache directory and carries a Lifetime
// setting. No component reads Lifetime: cached contents are not expired by
// age.
type CacheConfig struct {
	Directory string   `yaml:"directory"`
	Lifetime  Duration `yaml:"lifetime"`
}

// Duration is a time.Duration that unmarshals from YAML interval strings.
type Duration time.Duration

// UnmarshalYAML accepts either a Go duration string ("168h") or an
// already-numeric nanosecond count, so a config file can say "lifetime:
// 168h" without a custom scalar format.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// UpgradeConfig names the channel and device this resolver instance
// upgrades.
type UpgradeConfig struct {
	Channel   string `yaml:"channel"`
	Device    string `yaml:"device"`
	BuildFile string `yaml:"build_file"`
}

// KeyringConfig names the keyring trust root and the hop limit for
// following channel aliases and redirects.
type KeyringConfig struct {
	// ArchiveMasterPath is the path to the pinned, offline-distributed
	// archive-master public keyring that anchors the entire trust chain.
	// It is never fetched over the network.
	ArchiveMasterPath string `yaml:"archive_master_path"`
	MaxRedirectHops   int    `yaml:"max_redirect_hops"`
}

// DownloadConfig controls the bounded worker pool used for all-or-nothing
// file downloads.
type DownloadConfig struct {
	Workers    int      `yaml:"workers"`
	Timeout    Duration `yaml:"timeout"`
	RetryCount int      `yaml:"retry_count"`
}

// PartitionsConfig names the installer-visible filesystem locations
// verified keyring tarballs are deposited into: the cache partition for
// regular keyrings, the data partition for blacklists.
type PartitionsConfig struct {
	Cache string `yaml:"cache"`
	Data  string `yaml:"data"`
}

// InstallerConfig names the installer handoff endpoint.
type InstallerConfig struct {
	Address string `yaml:"address"`
}

// Defaults returns the built-in configuration a config file overrides.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{Base: "https://system-image.ubports.com"},
		Cache: CacheConfig{
			Directory: "~/.cache/otaresolve",
			Lifetime:  Duration(7 * 24 * time.Hour),
		},
		Upgrade: UpgradeConfig{Channel: "stable", Device: "", BuildFile: "/etc/otaresolve/build"},
		Keyring: KeyringConfig{
			ArchiveMasterPath: "/usr/share/otaresolve/archive-master.gpg",
			MaxRedirectHops:   8,
		},
		Download: DownloadConfig{
			Workers:    4,
			Timeout:    Duration(5 * time.Minute),
			RetryCount: 3,
		},
		Partitions: PartitionsConfig{
			Cache: "/android/cache/recovery",
			Data:  "/data/system-data/var/lib/otaresolve",
		},
		Installer:     InstallerConfig{Address: ""},
		Observability: *observability.DefaultConfig(),
	}
}

// Load reads a YAML configuration file from path, applying it on top of
// Defaults so a file may override only the fields it sets.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("otaconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("otaconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// CurrentBuild reads the device's current build number from
// Upgrade.BuildFile, a small file holding the build number as decimal.
func (c *Config) CurrentBuild() (int, error) {
	data, err := os.ReadFile(c.Upgrade.BuildFile)
	if err != nil {
		return 0, fmt.Errorf("otaconfig: read build file %s: %w", c.Upgrade.BuildFile, err)
	}
	var build int
	if _, err := fmt.Sscanf(string(data), "%d", &build); err != nil {
		return 0, fmt.Errorf("otaconfig: build file %s does not hold a decimal version: %w", c.Upgrade.BuildFile, err)
	}
	return build, nil
}

// CacheDir expands a leading "~" in Cache.Directory to the user's home
// directory.
func (c *Config) CacheDir() (string, error) {
	dir := c.Cache.Directory
	if len(dir) >= 1 && dir[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("otaconfig: resolve home directory: %w", err)
		}
		return home + dir[1:], nil
	}
	return dir, nil
}
