package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and control acquisition runs",
	Long:  "Commands for listing, viewing, cancelling, and force-failing acquisition runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List acquisition runs",
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

		status, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Owner:  owner,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		logs, err := st.ListRunLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show logs")
		}

		view := struct {
			*model.Run
			Stage string `json:"stage,omitempty"`
		}{Run: run, Stage: model.CurrentStage(logs)}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

// -- runs logs --

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print a run's full log history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListRunLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs logs")
		}

		for _, e := range entries {
			stage := e.Stage
			if stage == "" {
				stage = "-"
			}
			fmt.Printf("%4d  %s  %-16s  %s\n", e.Seq, e.CreatedAt.Format("15:04:05"), stage, e.Message)
		}
		return nil
	},
}

// -- runs cancel --

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cooperative cancellation of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ok, err := env.Pipeline.Cancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs cancel")
		}
		if !ok {
			return eris.Errorf("run not found: %s", args[0])
		}
		fmt.Printf("cancellation requested for run %s\n", args[0])
		return nil
	},
}

// -- runs fail --

var runsFailCmd = &cobra.Command{
	Use:   "fail <run-id>",
	Short: "Force a run to FAILED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reason, _ := cmd.Flags().GetString("reason")

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ok, err := env.Pipeline.ForceFail(ctx, args[0], reason)
		if err != nil {
			return eris.Wrap(err, "runs fail")
		}
		if !ok {
			return eris.Errorf("run not found: %s", args[0])
		}
		fmt.Printf("run %s failed\n", args[0])
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
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

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (pending, running, completed, failed, cancelled)")
	runsListCmd.Flags().String("owner", "", "filter by owner")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsFailCmd.Flags().String("reason", "", "reason recorded in the run log")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsLogsCmd)
	runsCmd.AddCommand(runsCancelCmd)
	runsCmd.AddCommand(runsFailCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Completed  int
	Failed     int
	Cancelled  int
	Other      int
	Counters   model.RunCounters
	AvgDurSecs float64
}

func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.Counters.Add(r.Counters)
		switch r.Status {
		case model.RunStatusCompleted:
			s.Completed++
		case model.RunStatusFailed:
			s.Failed++
		case model.RunStatusCancelled:
			s.Cancelled++
		default:
			s.Other++
		}
		if r.EndedAt != nil {
			totalDur += r.EndedAt.Sub(r.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tTARGETS\tSTATUS\tACCEPTED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := ""
		if r.EndedAt != nil {
			dur = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		targets := fmt.Sprintf("%d orgs", len(r.Targets.Organizations))
		if len(r.Targets.Organizations) == 0 && r.Targets.Prompt != "" {
			targets = truncate(strings.ReplaceAll(r.Targets.Prompt, "\n", " "), 30)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Owner,
			targets,
			r.Status,
			r.Counters.Accepted,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	_, _ = fmt.Fprintf(w, "Contacts submitted:\t%d\n", s.Counters.Submitted)
	_, _ = fmt.Fprintf(w, "Leads accepted:\t%d\n", s.Counters.Accepted)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Counters.Rejected)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", s.Counters.Duplicate)
	_, _ = fmt.Fprintf(w, "Errored:\t%d\n", s.Counters.Errored)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
