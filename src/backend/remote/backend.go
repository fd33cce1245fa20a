// Package remote lists archives already copied to an rclone remote.
package remote

import (
	"context"
	"errors"
	"sort"

	"btrfs-backup/src/backend"
	"btrfs-backup/src/backend/directory"
	"btrfs-backup/src/rclone"
)

type listDirsFunc func(context.Context, *rclone.Client, string) ([]rclone.Entry, error)

var listDirs listDirsFunc = func(ctx context.Context, c *rclone.Client, remote string) ([]rclone.Entry, error) {
	return c.ListDirs(ctx, remote)
}

type Backend struct {
	ctx    context.Context
	client *rclone.Client
	remote string
}

func New(ctx context.Context, client *rclone.Client, remote string) (*Backend, error) {
	if client == nil || client.Runner == nil {
		return nil, errors.New("rclone client is required")
	}
	if remote == "" {
		return nil, errors.New("rclone remote must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{ctx: ctx, client: client, remote: remote}, nil
}

// List returns the archives at the top level of the remote. Snapshots never
// leave the host, so asking for them yields nothing.
func (b *Backend) List(kind string) ([]backend.Entry, error) {
	if !backend.ValidKind(kind) {
		return nil, errors.New("remote backend: unsupported kind " + kind)
	}
	if !backend.Wants(kind, backend.TypeArchive) {
		return []backend.Entry{}, nil
	}
	dirs, err := listDirs(b.ctx, b.client, b.remote)
	if err != nil {
		return nil, err
	}
	entries := []backend.Entry{}
	for _, d := range dirs {
		e, ok := directory.Classify(d.Name)
		if !ok || e.Type != backend.TypeArchive {
			continue
		}
		e.Path = rclone.Target(b.remote, d.Path)
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return backend.Less(entries[i], entries[j]) })
	return entries, nil
}

// SetListDirsForTest allows tests to stub out rclone listing.
func SetListDirsForTest(fn listDirsFunc) func() {
	prev := listDirs
	listDirs = fn
	return func() { listDirs = prev }
}
