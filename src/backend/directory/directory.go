package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"btrfs-backup/src/backend"
	"btrfs-backup/src/naming"
)

// Backend implements backend.StorageBackend for a local directory. Archive
// directories (a backup dir) and snapshot subvolumes (a snapshot container)
// are told apart by name.
type Backend struct {
	Root string // absolute directory path
}

func New(root string) (*Backend, error) {
	if root == "" {
		return nil, errors.New("directory backend root must not be empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}
	return &Backend{Root: root}, nil
}

func (b *Backend) List(kind string) ([]backend.Entry, error) {
	if !backend.ValidKind(kind) {
		return nil, fmt.Errorf("directory backend: unsupported kind %s", kind)
	}
	names, err := readDirNames(b.Root)
	if err != nil {
		return nil, err
	}
	var entries []backend.Entry
	for _, name := range names {
		e, ok := Classify(name)
		if !ok || !backend.Wants(kind, e.Type) {
			continue
		}
		e.Path = filepath.Join(b.Root, name)
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return backend.Less(entries[i], entries[j]) })
	return entries, nil
}

// Classify builds an entry from a generated name; ok is false for anything
// this tool did not create.
func Classify(name string) (backend.Entry, bool) {
	if p, ok := naming.ParseBackupName(name); ok {
		return backend.Entry{Type: backend.TypeArchive, Name: name, Prefix: p.Prefix, Kind: string(p.Kind), Timestamp: p.Timestamp}, true
	}
	if p, ok := naming.ParseSnapshotName(name); ok {
		return backend.Entry{Type: backend.TypeSnapshot, Name: name, Prefix: p.Prefix, Timestamp: p.Timestamp}, true
	}
	return backend.Entry{}, false
}

func readDirNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			name := e.Name()
			// skip hidden
			if strings.HasPrefix(name, ".") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
