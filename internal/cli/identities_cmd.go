package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/store"
)

type identityRow struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	ID         int       `json:"id"`
	GID        int       `json:"gid,omitempty"`
	Active     bool      `json:"active"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email,omitempty"`
	Members    int       `json:"members,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

func newIdentitiesCmd(g *globals) *cobra.Command {
	var (
		all    bool
		kind   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "identities",
		Short: "List persisted identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind != "" && !identity.Kind(kind).Valid() {
				return fmt.Errorf("unknown kind %q: use user or group", kind)
			}
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
			}

			st, err := store.Open(g.cfg.DB)
			if err != nil {
				return err
			}
			defer st.Close()
			state, err := st.Load(cmd.Context())
			if err != nil {
				return err
			}

			rows := identityRows(state, identity.Kind(kind), all)
			w := cmd.OutOrStdout()
			if output == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tID\tGID\tACTIVE\tEXTERNAL ID\tLAST SEEN")
			for _, r := range rows {
				gid := "-"
				if r.Kind == string(identity.KindUser) {
					gid = fmt.Sprint(r.GID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\t%s\t%s\n",
					r.Kind, r.Name, r.ID, gid, r.Active, r.ExternalID, r.LastSeen.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include inactive identities")
	cmd.Flags().StringVar(&kind, "kind", "", "Only user or group")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func identityRows(state identity.State, kind identity.Kind, all bool) []identityRow {
	var rows []identityRow
	for _, k := range []identity.Kind{identity.KindUser, identity.KindGroup} {
		if kind != "" && k != kind {
			continue
		}
		for _, r := range state.Sorted(k) {
			if !all && !r.Active {
				continue
			}
			rows = append(rows, identityRow{
				Kind:       string(r.Kind),
				Name:       r.Name,
				ID:         r.NumericID,
				GID:        r.GID,
				Active:     r.Active,
				ExternalID: r.ExternalID,
				Email:      r.Email,
				Members:    len(r.Members),
				FirstSeen:  r.FirstSeen,
				LastSeen:   r.LastSeen,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind > rows[j].Kind
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}
