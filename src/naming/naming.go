// Package naming derives snapshot and archive names. Names embed a fixed-width
// UTC timestamp so that lexical order matches creation order.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimestampFormat is fixed width; string comparison orders it chronologically.
const TimestampFormat = "20060102T150405.000000000Z"

// Kind distinguishes full archives from incremental ones.
type Kind string

const (
	Full        Kind = "full"
	Incremental Kind = "incr"
)

// Resolver builds names for one prefix.
type Resolver struct {
	Prefix string
}

// New returns a Resolver for prefix. An empty prefix falls back to the base
// name of the volume path.
func New(prefix, volume string) Resolver {
	if prefix == "" {
		prefix = DefaultPrefix(volume)
	}
	return Resolver{Prefix: prefix}
}

// DefaultPrefix is the base name of the volume.
func DefaultPrefix(volume string) string {
	base := filepath.Base(filepath.Clean(volume))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// Timestamp formats t in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp is the inverse of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}

// SnapshotPrefix is the common leading part of every snapshot name.
func (r Resolver) SnapshotPrefix() string {
	return r.Prefix + "snapshot-"
}

// BackupPrefix is the common leading part of every archive name.
func (r Resolver) BackupPrefix() string {
	return r.Prefix + "backup-"
}

// SnapshotName is <prefix>snapshot-<timestamp>.
func (r Resolver) SnapshotName(t time.Time) string {
	return r.SnapshotPrefix() + Timestamp(t)
}

// BackupName is <prefix>backup-<timestamp>-<kind>.
func (r Resolver) BackupName(t time.Time, kind Kind) string {
	return fmt.Sprintf("%s%s-%s", r.BackupPrefix(), Timestamp(t), kind)
}

var (
	snapshotRe = regexp.MustCompile(`^(.*)snapshot-(\d{8}T\d{6}\.\d{9}Z)$`)
	backupRe   = regexp.MustCompile(`^(.*)backup-(\d{8}T\d{6}\.\d{9}Z)-(full|incr)$`)
)

// Parsed holds the pieces of a generated name.
type Parsed struct {
	Prefix    string
	Timestamp string
	Kind      Kind // empty for snapshots
}

// ParseSnapshotName reports whether name looks like a snapshot name.
func ParseSnapshotName(name string) (Parsed, bool) {
	m := snapshotRe.FindStringSubmatch(name)
	if m == nil {
		return Parsed{}, false
	}
	return Parsed{Prefix: m[1], Timestamp: m[2]}, true
}

// ParseBackupName reports whether name looks like an archive name.
func ParseBackupName(name string) (Parsed, bool) {
	m := backupRe.FindStringSubmatch(strings.TrimSuffix(name, "/"))
	if m == nil {
		return Parsed{}, false
	}
	return Parsed{Prefix: m[1], Timestamp: m[2], Kind: Kind(m[3])}, true
}
