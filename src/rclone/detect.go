package rclone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"btrfs-backup/src/util/command"
)

// RequiredVersion is the oldest rclone with --checksum copies and JSON logs.
const RequiredVersion = "1.50.0"

// BinaryInfo describes a detected rclone CLI binary.
type BinaryInfo struct {
	Path    string
	Version string
}

var versionRegexp = regexp.MustCompile(`rclone\s+v?([0-9]+\.[0-9]+\.[0-9]+(?:-[A-Za-z0-9.]+)?)`)

// Detect locates the rclone binary on PATH and queries its version. The
// context bounds the version subprocess.
func Detect(ctx context.Context, runner command.Runner) (BinaryInfo, error) {
	exe, err := exec.LookPath("rclone")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone binary not found on PATH: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	stdout, _, err := runner.Run(ctx, exe, "version")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone: version command failed: %w", err)
	}
	ver, err := ExtractVersion(stdout)
	if err != nil {
		return BinaryInfo{}, err
	}
	if ver == "" {
		return BinaryInfo{}, errors.New("rclone: could not parse version output")
	}
	return BinaryInfo{Path: exe, Version: ver}, nil
}

// ExtractVersion derives the rclone version from `rclone version` output.
func ExtractVersion(output string) (string, error) {
	return parseVersion(strings.NewReader(output))
}

func parseVersion(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if matches := versionRegexp.FindStringSubmatch(scanner.Text()); len(matches) == 2 {
			return matches[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("rclone: read version output: %w", err)
	}
	return "", nil
}

// IsCompatible reports whether version satisfies RequiredVersion.
func IsCompatible(version string) bool {
	left, ok := parseSemVersion(version)
	if !ok {
		return false
	}
	right, ok := parseSemVersion(RequiredVersion)
	if !ok {
		return false
	}
	return compareSemVersion(left, right) >= 0
}

type semVersion struct {
	major, minor, patch int
	pre                 string
}

func parseSemVersion(s string) (semVersion, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return semVersion{}, false
	}
	parts := strings.SplitN(s, "-", 2)
	nums := strings.Split(parts[0], ".")
	if len(nums) != 3 {
		return semVersion{}, false
	}
	var v [3]int
	for i, n := range nums {
		x, err := strconv.Atoi(n)
		if err != nil {
			return semVersion{}, false
		}
		v[i] = x
	}
	out := semVersion{major: v[0], minor: v[1], patch: v[2]}
	if len(parts) == 2 {
		out.pre = parts[1]
	}
	return out, true
}

func compareSemVersion(a, b semVersion) int {
	for _, d := range [][2]int{{a.major, b.major}, {a.minor, b.minor}, {a.patch, b.patch}} {
		if d[0] != d[1] {
			if d[0] > d[1] {
				return 1
			}
			return -1
		}
	}
	switch {
	case a.pre == b.pre:
		return 0
	case a.pre == "":
		return 1
	case b.pre == "":
		return -1
	}
	return strings.Compare(a.pre, b.pre)
}
