// Package snapshot creates the read-only snapshots every backup starts from.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"btrfs-backup/src/btrfs"
)

// DefaultContainer is where snapshots live, relative to the volume.
const DefaultContainer = ".snapshots"

// Manager owns the snapshot container of a volume.
type Manager struct {
	client btrfs.Client
	log    *zap.Logger
}

func New(client btrfs.Client, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{client: client, log: log}
}

// CheckVolume fails with btrfs.ErrNotSubvolume unless volume is a subvolume.
func (m *Manager) CheckVolume(ctx context.Context, volume string) error {
	ok, err := m.client.IsSubvolume(ctx, volume)
	if err != nil {
		return fmt.Errorf("check volume %s: %w", volume, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", volume, btrfs.ErrNotSubvolume)
	}
	return nil
}

// EnsureContainer creates <volume>/<rel> as a nested subvolume unless it
// already exists, and returns its path.
func (m *Manager) EnsureContainer(ctx context.Context, volume, rel string) (string, error) {
	if rel == "" {
		rel = DefaultContainer
	}
	dir := filepath.Join(volume, rel)
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", fmt.Errorf("snapshot container %s exists and is not a directory", dir)
		}
		return dir, nil
	case !os.IsNotExist(err):
		return "", fmt.Errorf("stat snapshot container: %w", err)
	}
	m.log.Info("creating snapshot container", zap.String("path", dir))
	if err := m.client.CreateSubvolume(ctx, dir); err != nil {
		return "", fmt.Errorf("create snapshot container: %w", err)
	}
	return dir, nil
}

// Create takes a read-only snapshot of volume at dest and flushes the
// filesystem so later readers observe it.
func (m *Manager) Create(ctx context.Context, volume, dest string) error {
	if err := m.CheckVolume(ctx, volume); err != nil {
		return err
	}
	m.log.Info("creating snapshot", zap.String("volume", volume), zap.String("snapshot", dest))
	if err := m.client.Snapshot(ctx, volume, dest, true); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := m.client.Sync(ctx, volume); err != nil {
		return fmt.Errorf("sync after snapshot: %w", err)
	}
	return nil
}
