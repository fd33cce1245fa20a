package btrfs

import (
	"context"
	"errors"

	"btrfs-backup/src/util/command"
)

// ErrNotSubvolume is returned when a path is not a btrfs subvolume.
var ErrNotSubvolume = errors.New("not a btrfs subvolume")

// Client is a narrow interface over the btrfs operations the backup needs.
// Keep it small so the fake stays honest.
type Client interface {
	// Subvolumes
	IsSubvolume(ctx context.Context, path string) (bool, error)
	CreateSubvolume(ctx context.Context, path string) error
	Snapshot(ctx context.Context, source, dest string, readOnly bool) error
	Sync(ctx context.Context, path string) error

	// Change tracking
	Generation(ctx context.Context, path string) (uint64, error)
	FindNew(ctx context.Context, path string, since uint64) ([]string, error)

	// Streams. parent is empty for a full stream.
	Send(ctx context.Context, snapshot, parent string) (command.Stream, error)
}
