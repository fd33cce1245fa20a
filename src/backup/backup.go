// Package backup runs the snapshot, archive and upload pipeline for one
// volume.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"btrfs-backup/src/archive"
	"btrfs-backup/src/btrfs"
	"btrfs-backup/src/changes"
	"btrfs-backup/src/config"
	"btrfs-backup/src/lineage"
	"btrfs-backup/src/lock"
	"btrfs-backup/src/naming"
	"btrfs-backup/src/rclone"
	"btrfs-backup/src/snapshot"
)

// Uploader copies a finished archive directory to the remote.
type Uploader interface {
	Upload(ctx context.Context, dir, name string) (rclone.Stats, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Btrfs btrfs.Client
	// Uploader is nil when no remote is configured.
	Uploader Uploader
	Log      *zap.Logger
	Now      func() time.Time
	// Progress receives send stream progress; nil disables it.
	Progress io.Writer
}

// Plan is what a run does, decided before anything is written.
type Plan struct {
	Snapshot    string      `json:"snapshot"`
	Parent      string      `json:"parent,omitempty"`
	Kind        naming.Kind `json:"kind,omitempty"`
	ArchiveName string      `json:"archive,omitempty"`
	Remote      string      `json:"remote,omitempty"`
}

// Result reports what a run did.
type Result struct {
	Plan
	SnapshotPath string
	Generation   uint64
	// Archive is nil when no backup directory is configured.
	Archive  *archive.Result
	Uploaded *rclone.Stats
	DryRun   bool
}

// Run backs up cfg.Source once.
func Run(ctx context.Context, cfg config.Config, deps Deps) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log = log.With(zap.String("volume", cfg.Source))

	snaps := snapshot.New(deps.Btrfs, log)
	if err := snaps.CheckVolume(ctx, cfg.Source); err != nil {
		return Result{}, err
	}

	names := naming.New(cfg.Prefix, cfg.Source)
	ts := now()
	container := cfg.ContainerPath()
	locator := lineage.NewLocator(container)

	res := Result{Plan: Plan{Snapshot: names.SnapshotName(ts)}, DryRun: cfg.DryRun}
	if cfg.Remote != "" && cfg.BackupDir != "" {
		res.Remote = cfg.Remote
	}

	if cfg.DryRun {
		parent, found, err := locator.FindLatest(names.SnapshotPrefix(), res.Snapshot)
		if err != nil {
			return res, err
		}
		if found {
			res.Parent = parent.Name
		}
		if cfg.BackupDir != "" {
			res.Kind = archive.DecideKind(res.Parent, cfg.ForceFull)
			res.ArchiveName = names.BackupName(ts, res.Kind)
		}
		log.Info("dry run",
			zap.String("snapshot", res.Snapshot),
			zap.String("parent", res.Parent),
			zap.String("kind", string(res.Kind)),
			zap.String("archive", res.ArchiveName))
		return res, nil
	}

	if _, err := snaps.EnsureContainer(ctx, cfg.Source, cfg.SnapshotDir); err != nil {
		return res, err
	}
	lk, err := lock.Acquire(filepath.Join(container, lock.FileName))
	if err != nil {
		return res, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn("release lock", zap.Error(err))
		}
	}()

	res.SnapshotPath = filepath.Join(container, res.Snapshot)
	if err := snaps.Create(ctx, cfg.Source, res.SnapshotPath); err != nil {
		return res, err
	}

	parent, found, err := locator.FindLatest(names.SnapshotPrefix(), res.Snapshot)
	if err != nil {
		return res, err
	}
	if found {
		res.Parent = parent.Name
		log.Info("found previous snapshot", zap.String("parent", parent.Name))
	}

	enum := changes.New(deps.Btrfs)
	if res.Generation, err = enum.Generation(ctx, res.SnapshotPath); err != nil {
		return res, err
	}

	entry := lineage.Entry{
		Snapshot:   res.Snapshot,
		Generation: res.Generation,
		Created:    ts.UTC(),
		Parent:     res.Parent,
	}

	if cfg.BackupDir != "" {
		ar, err := produce(ctx, cfg, deps, log, enum, &res, parent, found, names, ts)
		if err != nil {
			entry.Archive = res.ArchiveName
			entry.Kind = string(res.Kind)
			entry.Failed = true
			if lerr := locator.Ledger.Append(entry); lerr != nil {
				log.Warn("append ledger", zap.Error(lerr))
			}
			return res, err
		}
		res.Archive = &ar
		entry.Archive = res.ArchiveName
		entry.Kind = string(res.Kind)
	}

	if err := locator.Ledger.Append(entry); err != nil {
		return res, err
	}

	switch {
	case res.Archive == nil:
		if cfg.Remote != "" {
			log.Warn("remote configured without a backup directory, nothing to upload", zap.String("remote", cfg.Remote))
		}
	case deps.Uploader == nil:
	default:
		stats, err := deps.Uploader.Upload(ctx, res.Archive.Dir, res.ArchiveName)
		if err != nil {
			return res, err
		}
		res.Uploaded = &stats
	}
	return res, nil
}

func produce(ctx context.Context, cfg config.Config, deps Deps, log *zap.Logger, enum *changes.Enumerator,
	res *Result, parent lineage.Snapshot, found bool, names naming.Resolver, ts time.Time) (archive.Result, error) {
	parentPath := ""
	if found {
		parentPath = parent.Path
	}
	res.Kind = archive.DecideKind(parentPath, cfg.ForceFull)
	res.ArchiveName = names.BackupName(ts, res.Kind)
	if res.Kind == naming.Full {
		parentPath = ""
	}

	var since uint64
	if res.Kind == naming.Incremental {
		since = parent.Generation
		if since == 0 {
			gen, err := enum.Generation(ctx, parent.Path)
			if err != nil {
				return archive.Result{}, err
			}
			since = gen
		}
	}
	paths, err := enum.ChangedPaths(ctx, res.SnapshotPath, since)
	if err != nil {
		return archive.Result{}, err
	}
	log.Info("enumerated changed files", zap.Int("paths", len(paths)), zap.Uint64("since", since))

	dir := filepath.Join(cfg.BackupDir, res.ArchiveName)
	ar, err := archive.NewProducer(deps.Btrfs, log, deps.Progress).Produce(ctx, archive.Request{
		Dir:         dir,
		Snapshot:    res.SnapshotPath,
		Parent:      parentPath,
		Manifest:    paths,
		MaxFragment: cfg.MaxFragment,
	})
	if err != nil {
		if cfg.CleanupPartial {
			if rerr := os.RemoveAll(dir); rerr != nil {
				log.Warn("remove partial archive", zap.String("dir", dir), zap.Error(rerr))
			} else {
				log.Info("removed partial archive", zap.String("dir", dir))
			}
		}
		return ar, fmt.Errorf("archive %s: %w", res.ArchiveName, err)
	}
	return ar, nil
}
