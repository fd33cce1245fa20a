package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"btrfs-backup/src/config"
	"btrfs-backup/src/snapshot"
)

// addGlobalFlags adds the flags shared with the subcommands.
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringP(config.KeySource, "s", "", "btrfs subvolume to back up (required)")
	pf.StringP(config.KeySnapshotDir, "n", snapshot.DefaultContainer, "Snapshot directory, relative to the source volume")
	pf.StringP(config.KeyPrefix, "p", "", "Name prefix for snapshots and archives (default: base name of the source)")
	pf.StringP(config.KeyConfig, "c", "", "rclone config file (default: rclone's own)")
	pf.BoolP(config.KeyDebug, "d", false, "Debug output: trace commands and show send progress")
}

// addBackupFlags adds the flags only the backup itself uses.
func addBackupFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP(config.KeyBackupDir, "b", "", "Directory for backup archives; empty skips archiving")
	f.StringP(config.KeyMaxSize, "x", "", "Maximum archive fragment size, e.g. 100M or 1G (default: unlimited)")
	f.StringP(config.KeyRemote, "r", "", "rclone remote to upload archives to; empty skips upload")
	f.BoolP(config.KeyFull, "f", false, "Force a full backup even if a previous snapshot exists")
	f.Bool(config.KeyDryRun, false, "Show the planned snapshot and archive without making changes")
	f.Bool(config.KeyCleanupPartial, false, "Remove the archive directory if writing it fails")
	f.Bool(config.KeyFailFast, false, "Do not retry uploads that fail with an rclone usage or fatal error")
}

// loadConfig merges flags and BTRFS_BACKUP_* variables into a Config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	c, err := config.FromViper(v)
	if err != nil {
		return config.Config{}, usageError{cmd: cmd, err: err}
	}
	return c, nil
}

// bindFlags binds every flag that names a config key; a flag only overrides
// the environment when it was set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || !config.IsKey(f.Name) {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}
