package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect persisted leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		owner, _ := cmd.Flags().GetString("owner")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		leads, err := st.ListLeads(ctx, store.LeadFilter{Owner: owner, RunID: runID, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(leads)
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().String("owner", "", "filter by owner")
	leadsListCmd.Flags().String("run", "", "filter by run ID")
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display")
	leadsListCmd.Flags().Bool("json", false, "output full records as JSON")

	leadsCmd.AddCommand(leadsListCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tEMAIL\tTITLE\tCOMPANY\tRUN\tDRAFT")
	_, _ = fmt.Fprintln(w, "----\t-----\t-----\t-------\t---\t-----")

	for _, l := range leads {
		hasDraft := ""
		if l.Draft != "" {
			hasDraft = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\t%s\n",
			l.FirstName, l.LastName,
			l.Email,
			truncate(l.Title, 24),
			truncate(l.CompanyName, 24),
			truncateID(l.RunID),
			hasDraft,
		)
	}
	_ = w.Flush()
}
