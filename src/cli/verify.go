package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"btrfs-backup/src/archive"
	"btrfs-backup/src/backend"
	dir "btrfs-backup/src/backend/directory"
	"btrfs-backup/src/target"
)

func newVerifyCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify checksums of the archives in a backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tgtStr, _ := cmd.Flags().GetString("target")
			if tgtStr == "" {
				return errors.New("--target is required (e.g., dir:/path)")
			}
			tgt, err := target.Parse(tgtStr)
			if err != nil {
				return err
			}
			if tgt.Scheme != target.SchemeDir {
				return fmt.Errorf("verify: only directory backend is supported")
			}

			results, err := runVerify(tgt.DirPath)
			if err != nil {
				return err
			}
			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			case "table", "":
				tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tKIND\tTIMESTAMP\tSTATUS")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.Timestamp, r.Status)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
			if bad := countFailed(results); bad > 0 {
				return fmt.Errorf("%d of %d archive(s) failed verification", bad, len(results))
			}
			return nil
		},
	}
	cmd.Flags().String("target", "", "Backend target URI (e.g., dir:/path)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

type verifyResult struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Path      string `json:"path"`
}

func runVerify(root string) ([]verifyResult, error) {
	b, err := dir.New(root)
	if err != nil {
		return nil, err
	}
	entries, err := b.List(backend.KindArchives)
	if err != nil {
		return nil, err
	}
	out := make([]verifyResult, 0, len(entries))
	for _, e := range entries {
		out = append(out, verifyResult{
			Name:      e.Name,
			Kind:      e.Kind,
			Timestamp: e.Timestamp,
			Status:    archive.Verify(e.Path),
			Path:      e.Path,
		})
	}
	return out, nil
}

func countFailed(results []verifyResult) int {
	n := 0
	for _, r := range results {
		if r.Status != "ok" {
			n++
		}
	}
	return n
}
