// Package config holds the immutable settings of one backup run.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"btrfs-backup/src/naming"
	"btrfs-backup/src/snapshot"
)

// Keys shared by flags, environment variables and viper.
const (
	KeySource         = "source"
	KeyBackupDir      = "backup-dir"
	KeyMaxSize        = "max-size"
	KeyPrefix         = "prefix"
	KeySnapshotDir    = "snapshot-dir"
	KeyConfig         = "config"
	KeyRemote         = "remote"
	KeyFull           = "full"
	KeyDebug          = "debug"
	KeyDryRun         = "dry-run"
	KeyCleanupPartial = "cleanup-partial"
	KeyFailFast       = "fail-fast"
)

// IsKey reports whether name is one of the keys above.
func IsKey(name string) bool {
	switch name {
	case KeySource, KeyBackupDir, KeyMaxSize, KeyPrefix, KeySnapshotDir, KeyConfig,
		KeyRemote, KeyFull, KeyDebug, KeyDryRun, KeyCleanupPartial, KeyFailFast:
		return true
	}
	return false
}

// EnvPrefix namespaces environment overrides, e.g. BTRFS_BACKUP_REMOTE.
const EnvPrefix = "BTRFS_BACKUP"

// ErrMissingSource is returned when no volume was given.
var ErrMissingSource = errors.New("source volume is required (-s)")

// Config is built once per invocation and passed by value.
type Config struct {
	Source         string
	BackupDir      string
	MaxFragment    int64
	Prefix         string
	SnapshotDir    string
	RcloneConfig   string
	Remote         string
	ForceFull      bool
	Debug          bool
	DryRun         bool
	CleanupPartial bool
	FailFast       bool
}

// NewViper returns a viper instance reading BTRFS_BACKUP_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeySnapshotDir, snapshot.DefaultContainer)
	return v
}

// FromViper reads, normalizes and validates the configuration.
func FromViper(v *viper.Viper) (Config, error) {
	size, err := ParseSize(v.GetString(KeyMaxSize))
	if err != nil {
		return Config{}, err
	}
	c := Config{
		Source:         v.GetString(KeySource),
		BackupDir:      v.GetString(KeyBackupDir),
		MaxFragment:    size,
		Prefix:         v.GetString(KeyPrefix),
		SnapshotDir:    v.GetString(KeySnapshotDir),
		RcloneConfig:   v.GetString(KeyConfig),
		Remote:         v.GetString(KeyRemote),
		ForceFull:      v.GetBool(KeyFull),
		Debug:          v.GetBool(KeyDebug),
		DryRun:         v.GetBool(KeyDryRun),
		CleanupPartial: v.GetBool(KeyCleanupPartial),
		FailFast:       v.GetBool(KeyFailFast),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c.normalize(), nil
}

func (c Config) normalize() Config {
	c.Source = filepath.Clean(c.Source)
	if c.BackupDir != "" {
		c.BackupDir = filepath.Clean(c.BackupDir)
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = snapshot.DefaultContainer
	}
	if c.Prefix == "" {
		c.Prefix = naming.DefaultPrefix(c.Source)
	}
	c.Remote = strings.TrimSuffix(c.Remote, ":")
	return c
}

// Validate checks the settings without touching the filesystem.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return ErrMissingSource
	}
	if c.MaxFragment < 0 {
		return fmt.Errorf("max fragment size must not be negative")
	}
	if filepath.IsAbs(c.SnapshotDir) {
		return fmt.Errorf("snapshot dir %q must be relative to the source volume", c.SnapshotDir)
	}
	if clean := filepath.Clean(c.SnapshotDir); clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("snapshot dir %q must stay inside the source volume", c.SnapshotDir)
	}
	if strings.ContainsAny(c.Prefix, `/\`) {
		return fmt.Errorf("prefix %q must not contain path separators", c.Prefix)
	}
	return nil
}

// ContainerPath is the absolute snapshot container directory.
func (c Config) ContainerPath() string {
	return filepath.Join(c.Source, c.SnapshotDir)
}

// ParseSize parses fragment sizes such as "100M", "1G", "512k" or "4096".
// Single-letter suffixes are binary multiples, matching split(1).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return n, nil
	}
	last := rune(s[len(s)-1])
	if strings.ContainsRune("kKmMgGtTpP", last) && len(s) > 1 && unicode.IsDigit(rune(s[len(s)-2])) {
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int64(n), nil
}
