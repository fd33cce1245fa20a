package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"btrfs-backup/src/backend"
	dir "btrfs-backup/src/backend/directory"
	"btrfs-backup/src/backend/remote"
	"btrfs-backup/src/config"
	"btrfs-backup/src/logging"
	"btrfs-backup/src/rclone"
	"btrfs-backup/src/target"
)

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list [all|snapshots|archives]",
		Short: "List archives in a target and snapshots of the source volume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := backend.KindAll
			if len(args) == 1 {
				kind = strings.ToLower(args[0])
			}
			if !backend.ValidKind(kind) {
				return fmt.Errorf("unknown kind %q (expected all, snapshots or archives)", kind)
			}
			tgtStr, _ := cmd.Flags().GetString("target")
			source, _ := cmd.Flags().GetString(config.KeySource)
			if tgtStr == "" && source == "" {
				return errors.New("--target or --source is required (e.g., dir:/path)")
			}

			var entries []backend.Entry
			if source != "" {
				snapDir, _ := cmd.Flags().GetString(config.KeySnapshotDir)
				e, err := listSnapshots(filepath.Join(source, snapDir), kind)
				if err != nil {
					return err
				}
				entries = append(entries, e...)
			}
			if tgtStr != "" {
				be, err := openBackend(cmd, stderr, tgtStr)
				if err != nil {
					return err
				}
				e, err := be.List(kind)
				if err != nil {
					return err
				}
				entries = append(entries, e...)
			}
			sort.SliceStable(entries, func(i, j int) bool { return backend.Less(entries[i], entries[j]) })

			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []backend.Entry{}
				}
				return enc.Encode(entries)
			case "table", "":
				return renderTable(stdout, entries)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().String("target", "", "Backend target URI (dir:/path or rclone:<remote>)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

// listSnapshots lists the snapshot container; a volume never backed up has
// none.
func listSnapshots(container, kind string) ([]backend.Entry, error) {
	if !backend.Wants(kind, backend.TypeSnapshot) {
		return nil, nil
	}
	if _, err := os.Stat(container); os.IsNotExist(err) {
		return nil, nil
	}
	b, err := dir.New(container)
	if err != nil {
		return nil, err
	}
	return b.List(backend.KindSnapshots)
}

func openBackend(cmd *cobra.Command, stderr io.Writer, raw string) (backend.StorageBackend, error) {
	tgt, err := target.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch tgt.Scheme {
	case target.SchemeDir:
		return dir.New(tgt.DirPath)
	case target.SchemeRclone:
		debug, _ := cmd.Flags().GetBool(config.KeyDebug)
		runner := newRunner(logging.New(stderr, debug))
		info, err := checkRcloneBinary(cmd, runner)
		if err != nil {
			return nil, err
		}
		cfgPath, _ := cmd.Flags().GetString(config.KeyConfig)
		client := &rclone.Client{Bin: info, Runner: runner, Config: cfgPath}
		return remote.New(commandContext(cmd), client, tgt.Remote)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", tgt.Scheme)
	}
}

func renderTable(w io.Writer, entries []backend.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tPREFIX\tKIND\tTIMESTAMP\tNAME\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Type, e.Prefix, e.Kind, e.Timestamp, e.Name, e.Path)
	}
	return tw.Flush()
}
