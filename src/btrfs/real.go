package btrfs

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"btrfs-backup/src/util/command"
)

// maxTransid is larger than any generation a real filesystem reaches, so
// find-new against it lists nothing and only reports the current marker.
const maxTransid = "9999999999"

// RealClient drives the btrfs command-line tool.
type RealClient struct {
	Bin    string
	Runner command.Runner
}

// NewReal returns a client that runs "btrfs" through runner.
func NewReal(runner command.Runner) *RealClient {
	return &RealClient{Bin: "btrfs", Runner: runner}
}

func (r *RealClient) run(ctx context.Context, args ...string) (string, error) {
	stdout, _, err := r.Runner.Run(ctx, r.Bin, args...)
	return stdout, err
}

func (r *RealClient) IsSubvolume(ctx context.Context, path string) (bool, error) {
	_, err := r.run(ctx, "subvolume", "show", path)
	if err == nil {
		return true, nil
	}
	// btrfs ran and rejected the path.
	if command.ExitCode(err) > 0 {
		return false, nil
	}
	return false, err
}

func (r *RealClient) CreateSubvolume(ctx context.Context, path string) error {
	if _, err := r.run(ctx, "subvolume", "create", path); err != nil {
		return fmt.Errorf("btrfs: create subvolume %s: %w", path, err)
	}
	return nil
}

func (r *RealClient) Snapshot(ctx context.Context, source, dest string, readOnly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readOnly {
		args = append(args, "-r")
	}
	args = append(args, source, dest)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("btrfs: snapshot %s: %w", source, err)
	}
	return nil
}

func (r *RealClient) Sync(ctx context.Context, path string) error {
	if _, err := r.run(ctx, "filesystem", "sync", path); err != nil {
		return fmt.Errorf("btrfs: sync %s: %w", path, err)
	}
	return nil
}

func (r *RealClient) Generation(ctx context.Context, path string) (uint64, error) {
	out, err := r.run(ctx, "subvolume", "find-new", path, maxTransid)
	if err != nil {
		return 0, fmt.Errorf("btrfs: find-new %s: %w", path, err)
	}
	_, gen, err := ParseFindNew(out)
	if err != nil {
		return 0, fmt.Errorf("btrfs: find-new %s: %w", path, err)
	}
	return gen, nil
}

func (r *RealClient) FindNew(ctx context.Context, path string, since uint64) ([]string, error) {
	out, err := r.run(ctx, "subvolume", "find-new", path, strconv.FormatUint(since, 10))
	if err != nil {
		return nil, fmt.Errorf("btrfs: find-new %s: %w", path, err)
	}
	paths, _, err := ParseFindNew(out)
	if err != nil {
		return nil, fmt.Errorf("btrfs: find-new %s: %w", path, err)
	}
	return paths, nil
}

func (r *RealClient) Send(ctx context.Context, snapshot, parent string) (command.Stream, error) {
	args := []string{"send"}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	args = append(args, snapshot)
	s, err := r.Runner.Stream(ctx, r.Bin, args...)
	if err != nil {
		return nil, fmt.Errorf("btrfs: send %s: %w", snapshot, err)
	}
	return s, nil
}

var transidRe = regexp.MustCompile(`^transid marker was (\d+)$`)

// findNewPathField is the number of space-separated fields that precede the
// path in a find-new line:
//
//	inode 257 file offset 0 len 11 disk start 0 offset 0 gen 7 flags INLINE some/path
const findNewPathField = 16

// ParseFindNew splits `btrfs subvolume find-new` output into the listed paths
// (in output order, duplicates kept) and the trailing transid marker.
func ParseFindNew(out string) ([]string, uint64, error) {
	var (
		paths  []string
		marker uint64
		found  bool
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := transidRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			v, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("parse transid marker %q: %w", m[1], err)
			}
			marker, found = v, true
			continue
		}
		if !strings.HasPrefix(line, "inode ") {
			continue
		}
		fields := strings.SplitN(line, " ", findNewPathField+1)
		if len(fields) <= findNewPathField {
			continue
		}
		paths = append(paths, fields[findNewPathField])
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, fmt.Errorf("no transid marker in output")
	}
	return paths, marker, nil
}
