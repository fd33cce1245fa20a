// Package upload copies finished archives to an rclone remote, retrying with
// exponential backoff.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"btrfs-backup/src/rclone"
	"btrfs-backup/src/util/command"
)

// ErrRetryBudget is returned once the next retry delay exceeds the policy limit.
var ErrRetryBudget = errors.New("upload retry budget exhausted")

// Options configures an Uploader.
type Options struct {
	Remote string
	// Config is the rclone config file; empty uses rclone's default.
	Config string
	Bin    rclone.BinaryInfo
	Runner command.Runner
	Log    *zap.Logger
	Policy Policy
	// FailFast stops at the first rclone usage or fatal error instead of
	// retrying it. Off by default: every failure is retried until the
	// policy limit.
	FailFast bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Uploader copies archive directories to <remote>:/<name>.
type Uploader struct {
	opts Options
}

func New(opts Options) *Uploader {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Uploader{opts: opts}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Upload copies dir to the remote under name. Failures are retried per the
// policy unless they are classified as permanent.
func (u *Uploader) Upload(ctx context.Context, dir, name string) (rclone.Stats, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return rclone.Stats{}, fmt.Errorf("upload: archive %s is not a directory", dir)
	}

	cfg := u.opts.Config
	if cfg != "" && inContainer() {
		scratch, cleanup, err := scratchConfig(cfg)
		if err != nil {
			return rclone.Stats{}, err
		}
		defer cleanup()
		u.opts.Log.Debug("using scratch copy of rclone config", zap.String("config", scratch))
		cfg = scratch
	}
	client := &rclone.Client{Bin: u.opts.Bin, Runner: u.opts.Runner, Config: cfg}
	dst := rclone.Target(u.opts.Remote, name)

	b := u.opts.Policy.backOff()
	for attempt := 1; ; attempt++ {
		u.opts.Log.Info("uploading archive", zap.String("src", dir), zap.String("dst", dst), zap.Int("attempt", attempt))
		stats, err := copyOnce(ctx, client, dir, dst, u.opts.FailFast)
		if err == nil {
			u.opts.Log.Info("upload complete",
				zap.String("dst", dst),
				zap.String("transferred", humanize.IBytes(uint64(stats.Bytes))),
				zap.Int64("files", stats.Transfers),
				zap.Int64("checked", stats.Checks))
			return stats, nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return rclone.Stats{}, fmt.Errorf("upload %s: %w", name, perm.Err)
		}
		if ctx.Err() != nil {
			return rclone.Stats{}, ctx.Err()
		}

		delay := b.NextBackOff()
		if delay > u.opts.Policy.Limit {
			return rclone.Stats{}, fmt.Errorf("%w after %d attempts: %v", ErrRetryBudget, attempt, err)
		}
		u.opts.Log.Warn("upload failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := u.opts.Sleep(ctx, delay); err != nil {
			return rclone.Stats{}, err
		}
	}
}

// copyOnce runs one rclone copy. With failFast, usage and fatal errors are
// marked permanent.
func copyOnce(ctx context.Context, c *rclone.Client, src, dst string, failFast bool) (rclone.Stats, error) {
	stats, err := c.Copy(ctx, src, dst)
	if err == nil {
		return stats, nil
	}
	if !failFast {
		return stats, err
	}
	switch command.ExitCode(err) {
	case rclone.ExitUsage, rclone.ExitFatal:
		return stats, backoff.Permanent(err)
	}
	return stats, err
}
