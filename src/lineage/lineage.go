// Package lineage finds the snapshot an incremental backup is based on.
package lineage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot is a prior snapshot located on disk.
type Snapshot struct {
	Name string
	Path string
	// Generation is zero when the snapshot was found by listing only.
	Generation uint64
}

// Locator looks up snapshots in one container directory.
type Locator struct {
	Dir    string
	Ledger Ledger
}

func NewLocator(dir string) *Locator {
	return &Locator{Dir: dir, Ledger: Ledger{Path: filepath.Join(dir, LedgerFile)}}
}

// FindLatest returns the most recent snapshot named with prefix, other than
// exclude. When a ledger exists it is authoritative: entries marked failed
// or missing on disk are skipped, and running out of entries means there is
// no parent. Only a container without a ledger is listed and its names
// compared. Finding nothing is not an error.
func (l *Locator) FindLatest(prefix, exclude string) (Snapshot, bool, error) {
	if l.Ledger.Exists() {
		entries, err := l.Ledger.Entries()
		if err != nil {
			return Snapshot{}, false, err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if e.Failed || e.Snapshot == exclude || !strings.HasPrefix(e.Snapshot, prefix) {
				continue
			}
			p := filepath.Join(l.Dir, e.Snapshot)
			if !isDir(p) {
				continue
			}
			return Snapshot{Name: e.Snapshot, Path: p, Generation: e.Generation}, true, nil
		}
		return Snapshot{}, false, nil
	}

	names, err := l.list(prefix)
	if err != nil {
		return Snapshot{}, false, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		if name == exclude {
			continue
		}
		return Snapshot{Name: name, Path: filepath.Join(l.Dir, name)}, true, nil
	}
	return Snapshot{}, false, nil
}

// List returns the names of all snapshots with prefix, oldest first.
func (l *Locator) List(prefix string) ([]string, error) {
	names, err := l.list(prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (l *Locator) list(prefix string) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
