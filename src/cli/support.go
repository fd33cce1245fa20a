package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"btrfs-backup/src/btrfs"
	"btrfs-backup/src/rclone"
	"btrfs-backup/src/util/command"
)

type rcloneDetectorFunc func(context.Context, command.Runner) (rclone.BinaryInfo, error)

var (
	detectRcloneFn rcloneDetectorFunc = rclone.Detect

	newRunner = func(log *zap.Logger) command.Runner {
		return &command.Exec{Log: log}
	}
	newBtrfsClient = func(runner command.Runner) btrfs.Client {
		return btrfs.NewReal(runner)
	}
	nowFn = time.Now
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func checkRcloneBinary(cmd *cobra.Command, runner command.Runner) (rclone.BinaryInfo, error) {
	info, err := detectRcloneFn(commandContext(cmd), runner)
	if err != nil {
		return rclone.BinaryInfo{}, err
	}
	if !rclone.IsCompatible(info.Version) {
		return rclone.BinaryInfo{}, fmt.Errorf("rclone %s is older than required %s", info.Version, rclone.RequiredVersion)
	}
	return info, nil
}

// SetRcloneDetectorForTest allows tests to stub rclone detection.
// The returned function restores the previous detector.
func SetRcloneDetectorForTest(fn rcloneDetectorFunc) func() {
	prev := detectRcloneFn
	detectRcloneFn = fn
	return func() { detectRcloneFn = prev }
}

// SetRunnerForTest replaces the command runner used for btrfs and rclone.
func SetRunnerForTest(r command.Runner) func() {
	prev := newRunner
	newRunner = func(*zap.Logger) command.Runner { return r }
	return func() { newRunner = prev }
}

// SetBtrfsClientForTest replaces the btrfs client.
func SetBtrfsClientForTest(c btrfs.Client) func() {
	prev := newBtrfsClient
	newBtrfsClient = func(command.Runner) btrfs.Client { return c }
	return func() { newBtrfsClient = prev }
}

// SetNowForTest pins the clock used to name snapshots.
func SetNowForTest(fn func() time.Time) func() {
	prev := nowFn
	nowFn = fn
	return func() { nowFn = prev }
}
