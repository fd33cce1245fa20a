package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"btrfs-backup/src/btrfs"
	"btrfs-backup/src/naming"
)

func TestDecideKind(t *testing.T) {
	require.Equal(t, naming.Full, DecideKind("", false))
	require.Equal(t, naming.Full, DecideKind("", true))
	require.Equal(t, naming.Incremental, DecideKind("/s/prev", false))
	require.Equal(t, naming.Full, DecideKind("/s/prev", true))
}

func TestFragmentWriter_Splits(t *testing.T) {
	dir := t.TempDir()
	fw, err := newFragmentWriter(dir, StreamFile, 10)
	require.NoError(t, err)
	// Uneven writes across boundaries.
	for _, n := range []int{3, 9, 1, 12, 0, 2} {
		_, err := fw.Write(bytes.Repeat([]byte{'a'}, n))
		require.NoError(t, err)
	}
	frags, err := fw.Close()
	require.NoError(t, err)

	// 27 bytes -> 10 + 10 + 7
	require.Len(t, frags, 3)
	require.Equal(t, "stream.zst.00000", frags[0].Name)
	require.Equal(t, "stream.zst.00002", frags[2].Name)
	require.Equal(t, []int64{10, 10, 7}, []int64{frags[0].Bytes, frags[1].Bytes, frags[2].Bytes})
	for _, f := range frags {
		info, err := os.Stat(filepath.Join(dir, f.Name))
		require.NoError(t, err)
		require.Equal(t, f.Bytes, info.Size())
	}
}

func TestFragmentWriter_ExactMultipleHasNoEmptyTail(t *testing.T) {
	fw, err := newFragmentWriter(t.TempDir(), StreamFile, 4)
	require.NoError(t, err)
	_, err = fw.Write(make([]byte, 8))
	require.NoError(t, err)
	frags, err := fw.Close()
	require.NoError(t, err)
	require.Len(t, frags, 2)
}

func TestFragmentWriter_SuffixWidensPastFiveDigits(t *testing.T) {
	fw := &fragmentWriter{base: StreamFile, max: 1, idx: 123456}
	require.Equal(t, "stream.zst.123456", fw.name())
	fw.idx = 7
	require.Equal(t, "stream.zst.00007", fw.name())
}

func TestFragmentWriter_Unlimited(t *testing.T) {
	dir := t.TempDir()
	fw, err := newFragmentWriter(dir, StreamFile, 0)
	require.NoError(t, err)
	_, err = fw.Write(make([]byte, 1<<16))
	require.NoError(t, err)
	frags, err := fw.Close()
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, StreamFile, frags[0].Name)
}

type fixture struct {
	client *btrfs.FakeClient
	vol    string
	snaps  string
	out    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	fx := fixture{client: btrfs.NewFake(), vol: filepath.Join(root, "vol"), out: filepath.Join(root, "backups")}
	fx.snaps = filepath.Join(fx.vol, ".snapshots")
	require.NoError(t, fx.client.AddVolume(fx.vol))
	fx.client.Touch(fx.vol, "a", "b")
	return fx
}

func (fx fixture) snapshot(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(fx.snaps, name)
	require.NoError(t, fx.client.Snapshot(context.Background(), fx.vol, p, true))
	return p
}

func TestProduce_FullSingleFile(t *testing.T) {
	fx := newFixture(t)
	fx.client.SendSize = 50_000
	snap := fx.snapshot(t, "s1")
	dir := filepath.Join(fx.out, "vol-backup-20240101T000000.000000000Z-full")

	res, err := NewProducer(fx.client, nil, nil).Produce(context.Background(), Request{
		Dir: dir, Snapshot: snap, Manifest: []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Equal(t, naming.Full, res.Kind)
	require.Len(t, res.Fragments, 1)
	require.Equal(t, []btrfs.SendCall{{Snapshot: snap}}, fx.client.Sends)

	names := dirNames(t, dir)
	require.ElementsMatch(t, []string{"files.txt", "stream.zst", "checksums.txt"}, names)
	manifest, err := os.ReadFile(filepath.Join(dir, "files.txt"))
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(manifest))
	require.Equal(t, "ok", Verify(dir))

	// The stream decompresses back to what btrfs send produced.
	f, err := os.Open(filepath.Join(dir, StreamFile))
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, res.Raw, int64(len(data)))
	require.True(t, bytes.HasPrefix(data, []byte("btrfs-stream snapshot=s1 parent=.")))
}

func TestProduce_IncrementalFragmented(t *testing.T) {
	fx := newFixture(t)
	fx.client.SendSize = 200_000
	parent := fx.snapshot(t, "s1")
	fx.client.Touch(fx.vol, "c")
	snap := fx.snapshot(t, "s2")
	dir := filepath.Join(fx.out, "vol-backup-20240102T000000.000000000Z-incr")
	const max = 16 * 1024

	res, err := NewProducer(fx.client, nil, nil).Produce(context.Background(), Request{
		Dir: dir, Snapshot: snap, Parent: parent, Manifest: []string{"c"}, MaxFragment: max,
	})
	require.NoError(t, err)
	require.Equal(t, naming.Incremental, res.Kind)
	require.Greater(t, len(res.Fragments), 1)
	for i, f := range res.Fragments {
		if i < len(res.Fragments)-1 {
			require.Equal(t, int64(max), f.Bytes)
		} else {
			require.LessOrEqual(t, f.Bytes, int64(max))
		}
	}
	require.Equal(t, parent, fx.client.Sends[0].Parent)
	require.Equal(t, "ok", Verify(dir))
}

func TestProduce_SendFailureLeavesPartialArchive(t *testing.T) {
	fx := newFixture(t)
	fx.client.SendSize = 1000
	fx.client.SendErr = errors.New("ERROR: parent subvolume not found")
	snap := fx.snapshot(t, "s1")
	dir := filepath.Join(fx.out, "x-full")

	_, err := NewProducer(fx.client, nil, nil).Produce(context.Background(), Request{Dir: dir, Snapshot: snap})
	require.ErrorContains(t, err, "btrfs send failed")
	require.Contains(t, dirNames(t, dir), "files.txt")
	require.NotContains(t, dirNames(t, dir), ChecksumsFile)
}

func TestProduce_ProgressOutput(t *testing.T) {
	fx := newFixture(t)
	fx.client.SendSize = 10
	snap := fx.snapshot(t, "s1")
	var progress bytes.Buffer
	_, err := NewProducer(fx.client, nil, &progress).Produce(context.Background(), Request{Dir: filepath.Join(fx.out, "p"), Snapshot: snap})
	require.NoError(t, err)
	require.Contains(t, progress.String(), "[send]")
}

func TestVerify_DetectsTampering(t *testing.T) {
	fx := newFixture(t)
	fx.client.SendSize = 100
	snap := fx.snapshot(t, "s1")
	dir := filepath.Join(fx.out, "t")
	_, err := NewProducer(fx.client, nil, nil).Produce(context.Background(), Request{Dir: dir, Snapshot: snap})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, StreamFile), []byte("corrupt"), 0o644))
	require.Equal(t, "mismatch", Verify(dir))
	require.Contains(t, Verify(t.TempDir()), "missing checksums.txt")
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}
