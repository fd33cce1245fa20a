package lineage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
	}
}

func TestFindLatest_EmptyContainer(t *testing.T) {
	l := NewLocator(filepath.Join(t.TempDir(), "missing"))
	_, ok, err := l.FindLatest("demo-snapshot-", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindLatest_OnlyCurrentSnapshot(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "demo-snapshot-20240101T000000.000000000Z")
	_, ok, err := NewLocator(dir).FindLatest("demo-snapshot-", "demo-snapshot-20240101T000000.000000000Z")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindLatest_ListingFallback(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		"demo-snapshot-20240101T000000.000000000Z",
		"demo-snapshot-20240301T000000.000000000Z",
		"demo-snapshot-20240201T000000.000000000Z",
		"other-snapshot-20250101T000000.000000000Z",
		"demo-snapshot-20240401T000000.000000000Z",
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo-snapshot-20990101T000000.000000000Z"), nil, 0o644))

	got, ok, err := NewLocator(dir).FindLatest("demo-snapshot-", "demo-snapshot-20240401T000000.000000000Z")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "demo-snapshot-20240301T000000.000000000Z", got.Name)
	require.Equal(t, filepath.Join(dir, got.Name), got.Path)
	require.Zero(t, got.Generation)
}

func TestFindLatest_PrefersLedger(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "demo-snapshot-20240101T000000.000000000Z", "demo-snapshot-20240201T000000.000000000Z", "demo-snapshot-20240301T000000.000000000Z")
	l := NewLocator(dir)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240101T000000.000000000Z", Generation: 10, Created: now}))
	// Recorded in the ledger but deleted from disk since.
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240115T000000.000000000Z", Generation: 15, Created: now}))
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240201T000000.000000000Z", Generation: 20, Created: now}))
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240301T000000.000000000Z", Generation: 30, Created: now}))

	got, ok, err := l.FindLatest("demo-snapshot-", "demo-snapshot-20240301T000000.000000000Z")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "demo-snapshot-20240201T000000.000000000Z", got.Name)
	require.Equal(t, uint64(20), got.Generation)
}

func TestLedger_RoundTripAppendOnly(t *testing.T) {
	l := Ledger{Path: filepath.Join(t.TempDir(), LedgerFile)}
	entries, err := l.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)

	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, l.Append(Entry{Snapshot: "a", Generation: 1, Created: created, Kind: "full", Archive: "a-full"}))
	require.NoError(t, l.Append(Entry{Snapshot: "b", Generation: 2, Created: created, Parent: "a", Kind: "incr"}))

	entries, err = l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Snapshot)
	require.Equal(t, "a", entries[1].Parent)
	require.True(t, entries[1].Created.Equal(created))
}

func TestList_SortedOldestFirst(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "p-snapshot-20240301T000000.000000000Z", "p-snapshot-20240101T000000.000000000Z")
	names, err := NewLocator(dir).List("p-snapshot-")
	require.NoError(t, err)
	require.Equal(t, []string{"p-snapshot-20240101T000000.000000000Z", "p-snapshot-20240301T000000.000000000Z"}, names)
}

func TestFindLatest_LedgerSkipsFailedArchives(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "demo-snapshot-20240101T000000.000000000Z", "demo-snapshot-20240201T000000.000000000Z")
	l := NewLocator(dir)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240101T000000.000000000Z", Generation: 10, Created: now, Kind: "full"}))
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240201T000000.000000000Z", Generation: 20, Created: now, Kind: "incr", Failed: true}))

	got, ok, err := l.FindLatest("demo-snapshot-", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "demo-snapshot-20240101T000000.000000000Z", got.Name)

	entries, err := l.Ledger.Entries()
	require.NoError(t, err)
	require.True(t, entries[1].Failed)
	require.False(t, entries[0].Failed)
}

func TestFindLatest_LedgerWithoutMatchMeansNoParent(t *testing.T) {
	dir := t.TempDir()
	// On disk, but only as a failed snapshot in the ledger.
	mkdirs(t, dir, "demo-snapshot-20240101T000000.000000000Z", "demo-snapshot-20240201T000000.000000000Z")
	l := NewLocator(dir)
	require.NoError(t, l.Ledger.Append(Entry{Snapshot: "demo-snapshot-20240101T000000.000000000Z", Generation: 10, Failed: true}))

	_, ok, err := l.FindLatest("demo-snapshot-", "demo-snapshot-20240201T000000.000000000Z")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, l.Ledger.Exists())
}
