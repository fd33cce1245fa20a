package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"btrfs-backup/src/backup"
	"btrfs-backup/src/logging"
	"btrfs-backup/src/rclone"
	"btrfs-backup/src/upload"
)

func runBackup(cmd *cobra.Command, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.New(stderr, cfg.Debug)
	defer func() { _ = log.Sync() }()

	runner := newRunner(log)
	deps := backup.Deps{
		Btrfs: newBtrfsClient(runner),
		Log:   log,
		Now:   nowFn,
	}
	if cfg.Debug {
		deps.Progress = stderr
	}
	if cfg.Remote != "" && cfg.BackupDir != "" && !cfg.DryRun {
		info, err := checkRcloneBinary(cmd, runner)
		if err != nil {
			return err
		}
		log.Debug("found rclone", zap.String("path", info.Path), zap.String("version", info.Version))
		deps.Uploader = upload.New(upload.Options{
			Remote:   cfg.Remote,
			Config:   cfg.RcloneConfig,
			Bin:      info,
			Runner:   runner,
			Log:      log,
			FailFast: cfg.FailFast,
		})
	}

	res, err := backup.Run(commandContext(cmd), cfg, deps)
	if err != nil {
		return err
	}
	printResult(stdout, cfg.Remote, res)
	return nil
}

func printResult(w io.Writer, remote string, res backup.Result) {
	if res.DryRun {
		fmt.Fprintf(w, "Would create snapshot %s\n", res.Snapshot)
		if res.Parent != "" {
			fmt.Fprintf(w, "Previous snapshot: %s\n", res.Parent)
		}
		if res.ArchiveName != "" {
			fmt.Fprintf(w, "Would write %s archive %s\n", res.Kind, res.ArchiveName)
		}
		if res.Remote != "" {
			fmt.Fprintf(w, "Would upload to %s\n", rclone.Target(res.Remote, res.ArchiveName))
		}
		return
	}
	fmt.Fprintf(w, "Snapshot: %s\n", res.SnapshotPath)
	if res.Archive != nil {
		fmt.Fprintf(w, "Archive: %s (%s, %d fragment(s), %s)\n",
			res.Archive.Dir, res.Kind, len(res.Archive.Fragments), humanize.IBytes(uint64(res.Archive.Bytes)))
	}
	if res.Uploaded != nil {
		fmt.Fprintf(w, "Uploaded: %s (%s transferred)\n",
			rclone.Target(remote, res.ArchiveName), humanize.IBytes(uint64(res.Uploaded.Bytes)))
	}
}
