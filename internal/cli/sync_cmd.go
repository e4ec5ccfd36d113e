package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/pass"
)

func newSyncCmd(g *globals) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, cleanup, err := newRunner(cmd.Context(), g.cfg)
			defer cleanup()
			if err != nil {
				return err
			}
			runner.Opts.DryRun = dryRun
			runner.Opts.Force = force

			res, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if dryRun {
				printFiles(cmd.OutOrStdout(), res)
				return nil
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the files that would be written; write nothing")
	cmd.Flags().BoolVar(&force, "force", false, "Publish even if the output is unchanged")
	return cmd
}

func printFiles(w io.Writer, res pass.Result) {
	fmt.Fprintln(w, "# ---- PASSWD ----")
	_, _ = w.Write(res.Files.Passwd)
	fmt.Fprintln(w, "# ---- GROUP ----")
	_, _ = w.Write(res.Files.Group)
	fmt.Fprintln(w, "# ---- SHADOW ----")
	_, _ = w.Write(res.Files.Shadow)
}

func printSummary(w io.Writer, res pass.Result) {
	state := "unchanged"
	if res.Published {
		state = "published"
	}
	c := res.Changes
	fmt.Fprintf(w, "pass %s %s: %d users, %d groups (+%d ~%d ^%d -%d), %d skipped, digest %s\n",
		res.PassID, state, res.Users, res.Groups,
		len(c.Inserted), len(c.Updated), len(c.Reactivated), len(c.Deactivated),
		len(res.Skipped), res.Digest)
}
