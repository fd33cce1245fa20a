package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the root cobra command. Invoked without a subcommand it
// backs up the volume named by -s.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "btrfs-backup -s <volume> [flags]",
		Short: "Snapshot a btrfs subvolume, archive it and copy it to an rclone remote",
		Long: `btrfs-backup takes a read-only snapshot of a btrfs subvolume. With -b it
writes a full or incremental btrfs send archive (zstd compressed, optionally
split with -x), and with -r it copies that archive to an rclone remote.

Every flag can also be set as BTRFS_BACKUP_<FLAG>, e.g. BTRFS_BACKUP_REMOTE.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{cmd: c, err: err}
	})

	addGlobalFlags(cmd)
	addBackupFlags(cmd)

	// Subcommands
	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newListCmd(stdout, stderr))
	cmd.AddCommand(newVerifyCmd(stdout, stderr))

	return cmd
}

// usageError is a configuration mistake; the usage text is printed with it.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Execute runs the CLI with the process stdio. ctx is cancelled on SIGINT
// and SIGTERM by the caller.
func Execute(ctx context.Context) int {
	return run(ctx, NewRootCmd(os.Stdout, os.Stderr), os.Args[1:], os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stderr, ue.cmd.UsageString())
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}
