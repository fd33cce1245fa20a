// Package changes lists the paths modified in a snapshot since a generation
// marker. The list is informational; archives are built from btrfs send.
package changes

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"slices"

	"btrfs-backup/src/btrfs"
)

// ManifestFile is the name of the change list inside an archive.
const ManifestFile = "files.txt"

// Enumerator wraps btrfs find-new.
type Enumerator struct {
	client btrfs.Client
}

func New(client btrfs.Client) *Enumerator {
	return &Enumerator{client: client}
}

// ChangedPaths returns the sorted, de-duplicated paths changed in snapshot
// after generation since. since == 0 lists every path.
func (e *Enumerator) ChangedPaths(ctx context.Context, snapshot string, since uint64) ([]string, error) {
	paths, err := e.client.FindNew(ctx, snapshot, since)
	if err != nil {
		return nil, fmt.Errorf("enumerate changes: %w", err)
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// Generation returns the current generation marker of snapshot.
func (e *Enumerator) Generation(ctx context.Context, snapshot string) (uint64, error) {
	gen, err := e.client.Generation(ctx, snapshot)
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	return gen, nil
}

// WriteManifest writes one path per line.
func WriteManifest(path string, paths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		if _, err := fmt.Fprintln(w, p); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
