package btrfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"btrfs-backup/src/util/command"
)

// FakeSubvolume is the in-memory state of one subvolume.
type FakeSubvolume struct {
	ReadOnly   bool
	Generation uint64
	// Files maps a relative path to the generation that last changed it.
	Files map[string]uint64
}

// SendCall records one Send invocation.
type SendCall struct {
	Snapshot string
	Parent   string
}

// FakeClient is an in-memory implementation for unit tests. Subvolumes are
// also created as directories on disk so directory listings see them.
type FakeClient struct {
	Subvolumes map[string]*FakeSubvolume
	Gen        uint64
	Syncs      []string
	Sends      []SendCall

	// SendSize is the number of pseudo-random payload bytes a Send emits.
	SendSize int
	// SendErr, when set, is returned from the stream's Wait.
	SendErr error
	// SnapshotErr, when set, fails every Snapshot call.
	SnapshotErr error
}

func NewFake() *FakeClient {
	return &FakeClient{Subvolumes: map[string]*FakeSubvolume{}, Gen: 1}
}

// AddVolume registers an existing directory as a writable subvolume.
func (f *FakeClient) AddVolume(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	f.Subvolumes[filepath.Clean(path)] = &FakeSubvolume{Generation: f.Gen, Files: map[string]uint64{}}
	return nil
}

// Touch marks rel as modified in the subvolume at path.
func (f *FakeClient) Touch(path string, rel ...string) {
	v := f.Subvolumes[filepath.Clean(path)]
	f.Gen++
	for _, r := range rel {
		v.Files[r] = f.Gen
	}
	v.Generation = f.Gen
}

func (f *FakeClient) lookup(path string) (*FakeSubvolume, error) {
	v, ok := f.Subvolumes[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotSubvolume)
	}
	return v, nil
}

func (f *FakeClient) IsSubvolume(_ context.Context, path string) (bool, error) {
	_, ok := f.Subvolumes[filepath.Clean(path)]
	return ok, nil
}

func (f *FakeClient) CreateSubvolume(_ context.Context, path string) error {
	if _, ok := f.Subvolumes[filepath.Clean(path)]; ok {
		return fmt.Errorf("btrfs: create subvolume %s: exists", path)
	}
	return f.AddVolume(path)
}

func (f *FakeClient) Snapshot(_ context.Context, source, dest string, readOnly bool) error {
	if f.SnapshotErr != nil {
		return f.SnapshotErr
	}
	src, err := f.lookup(source)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("btrfs: snapshot %s: destination %s exists", source, dest)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	f.Gen++
	files := make(map[string]uint64, len(src.Files))
	for k, v := range src.Files {
		files[k] = v
	}
	f.Subvolumes[filepath.Clean(dest)] = &FakeSubvolume{ReadOnly: readOnly, Generation: f.Gen, Files: files}
	return nil
}

func (f *FakeClient) Sync(_ context.Context, path string) error {
	f.Syncs = append(f.Syncs, path)
	return nil
}

func (f *FakeClient) Generation(_ context.Context, path string) (uint64, error) {
	v, err := f.lookup(path)
	if err != nil {
		return 0, err
	}
	return v.Generation, nil
}

func (f *FakeClient) FindNew(_ context.Context, path string, since uint64) ([]string, error) {
	v, err := f.lookup(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for p, gen := range v.Files {
		if gen > since {
			// btrfs reports one line per extent; repeat to mimic that.
			out = append(out, p, p)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (f *FakeClient) Send(_ context.Context, snapshot, parent string) (command.Stream, error) {
	if _, err := f.lookup(snapshot); err != nil {
		return nil, err
	}
	if parent != "" {
		if _, err := f.lookup(parent); err != nil {
			return nil, err
		}
	}
	f.Sends = append(f.Sends, SendCall{Snapshot: snapshot, Parent: parent})

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "btrfs-stream snapshot=%s parent=%s\n", filepath.Base(snapshot), filepath.Base(parent))
	rng := rand.New(rand.NewSource(int64(len(f.Sends))))
	if _, err := io.CopyN(&buf, rng, int64(f.SendSize)); err != nil {
		return nil, err
	}
	return command.NewStream(&buf, f.SendErr), nil
}
