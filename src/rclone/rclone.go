// Package rclone wraps the rclone CLI for copying archives to a remote.
package rclone

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"btrfs-backup/src/util/command"
)

// Exit codes rclone documents for failures a retry cannot fix. Exit 1 is
// "error not otherwise categorised" and is retried like any other.
const (
	ExitUsage = 2
	ExitFatal = 7
)

// Client runs rclone against one remote.
type Client struct {
	Bin    BinaryInfo
	Runner command.Runner
	// Config overrides rclone's default config file when set.
	Config string
}

// Stats summarizes a finished transfer.
type Stats struct {
	Bytes     int64 `json:"bytes"`
	Transfers int64 `json:"transfers"`
	Checks    int64 `json:"checks"`
	Errors    int64 `json:"errors"`
}

// Target joins a remote name and a path into "<remote>:/<path>".
func Target(remote, path string) string {
	return strings.TrimSuffix(remote, ":") + ":/" + strings.TrimPrefix(path, "/")
}

func (c *Client) args(args ...string) []string {
	if c.Config != "" {
		args = append(args, "--config", c.Config)
	}
	return args
}

func (c *Client) bin() string {
	if c.Bin.Path != "" {
		return c.Bin.Path
	}
	return "rclone"
}

// Copy copies the local directory src to dst, comparing checksums instead of
// modification times so unchanged fragments are skipped.
func (c *Client) Copy(ctx context.Context, src, dst string) (Stats, error) {
	args := c.args("copy", "--checksum", "--use-json-log", "-v", "--stats-one-line", src, dst)
	_, stderr, err := c.Runner.Run(ctx, c.bin(), args...)
	if err != nil {
		return Stats{}, fmt.Errorf("rclone: copy %s to %s: %w", src, dst, err)
	}
	stats, _ := ParseStats(stderr)
	return stats, nil
}

// ParseStats returns the last stats block found in --use-json-log output.
func ParseStats(log string) (Stats, bool) {
	var (
		last  Stats
		found bool
	)
	sc := bufio.NewScanner(strings.NewReader(log))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var rec struct {
			Stats *Stats `json:"stats"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Stats == nil {
			continue
		}
		last, found = *rec.Stats, true
	}
	return last, found
}

// Entry is one item from `rclone lsjson`.
type Entry struct {
	Path    string    `json:"Path"`
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// ListDirs returns the top-level directories at "<remote>:/", sorted by name.
func (c *Client) ListDirs(ctx context.Context, remote string) ([]Entry, error) {
	args := c.args("lsjson", "--dirs-only", Target(remote, ""))
	stdout, _, err := c.Runner.Run(ctx, c.bin(), args...)
	if err != nil {
		return nil, fmt.Errorf("rclone: list %s: %w", remote, err)
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		return nil, fmt.Errorf("rclone: parse lsjson output: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
