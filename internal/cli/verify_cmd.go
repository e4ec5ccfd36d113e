package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/hostfs"
	"github.com/hnrobert/nssync/internal/manifest"
	"github.com/hnrobert/nssync/internal/nssfile"
)

func newVerifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the published files against their manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := g.cfg.OutDir
			var secret []byte
			if k := g.cfg.Manifest.SigningKey; k != "" {
				secret = []byte(k)
			}

			m, err := manifest.Verify(dir, secret)
			if err != nil {
				return err
			}

			bodies := map[string][]byte{}
			for _, name := range []string{hostfs.PasswdName, hostfs.GroupName, hostfs.ShadowName} {
				p, err := hostfs.Path(dir, name)
				if err != nil {
					return err
				}
				b, err := hostfs.ReadFile(p)
				if err != nil {
					return err
				}
				bodies[name] = b
			}
			if err := nssfile.Check(bodies[hostfs.PasswdName], bodies[hostfs.GroupName], bodies[hostfs.ShadowName]); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}

			signed := "unsigned"
			if secret != nil {
				signed = "signature ok"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pass %s from %s, %d users, %d groups, %s\n",
				dir, m.PassID, m.GeneratedAt.Format("2006-01-02 15:04:05Z07:00"), m.Users, m.Groups, signed)
			return nil
		},
	}
}
