package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/logger"
	"github.com/hnrobert/nssync/internal/posixgen"
)

func newAutogenCmd(g *globals) *cobra.Command {
	var (
		commit       bool
		startUID     int
		startGID     int
		gidEqualsUID bool
	)

	cmd := &cobra.Command{
		Use:   "autogen-posix",
		Short: "Give directory users without a posix account one (dry run unless --commit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := g.cfg
			flags := cmd.Flags()
			if flags.Changed("start-uid") {
				cfg.Autogen.StartUID = startUID
			}
			if flags.Changed("start-gid") {
				cfg.Autogen.StartGID = startGID
			}
			if flags.Changed("gid-equals-uid") {
				cfg.Autogen.GIDEqualsUID = gidEqualsUID
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			src, err := newSource(cmd.Context(), cfg, commit)
			if err != nil {
				return err
			}
			var writer directory.PosixWriter
			if commit {
				w, ok := src.(directory.PosixWriter)
				if !ok {
					return errors.New("--commit needs a writable directory source (source.kind: google)")
				}
				writer = w
			}

			users, err := src.Users(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := posixgen.Build(users, posixgen.Options{
				StartUID:     cfg.Autogen.StartUID,
				StartGID:     cfg.Autogen.StartGID,
				GIDEqualsUID: cfg.Autogen.GIDEqualsUID,
				Avoid:        cfg.GroupRange,
				Canon:        cfg.Canon(),
				HomeTemplate: cfg.HomeTemplate,
				DefaultShell: cfg.DefaultShell,
			})
			if err != nil {
				return err
			}
			for _, e := range plan.Skipped {
				logger.Warn("skipping user: %v", e)
			}

			w := cmd.OutOrStdout()
			if len(plan.Assignments) == 0 {
				fmt.Fprintln(w, "No users need posix accounts.")
				return nil
			}
			fmt.Fprintf(w, "Planned assignments for %d users:\n", len(plan.Assignments))
			for _, a := range plan.Assignments {
				acct := a.Account
				fmt.Fprintf(w, "  %s (%s): %s uid=%d gid=%d home=%s shell=%s\n",
					a.UserID, a.Email, acct.Username, *acct.UID, *acct.GID, acct.Home, acct.Shell)
			}
			if !commit {
				fmt.Fprintln(w, "\nDRY RUN (no changes made). Re-run with --commit to apply.")
				return nil
			}

			n, err := posixgen.Apply(cmd.Context(), writer, plan)
			fmt.Fprintf(w, "\nUpdated %d/%d users.\n", n, len(plan.Assignments))
			return err
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "Write the planned accounts to the directory")
	cmd.Flags().IntVar(&startUID, "start-uid", 0, "First uid to hand out (default from config)")
	cmd.Flags().IntVar(&startGID, "start-gid", 0, "First gid to hand out when --gid-equals-uid=false")
	cmd.Flags().BoolVar(&gidEqualsUID, "gid-equals-uid", true, "Give each user a gid equal to its uid")
	return cmd
}

