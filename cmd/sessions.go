package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insight-cli/internal/audit"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect analysis session history",
	Long:  "Commands for listing and viewing recorded orchestration sessions.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("sessions"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		symbol, _ := cmd.Flags().GetString("symbol")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := audit.SessionFilter{
			TargetKey: symbol,
			Limit:     limit,
		}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}

		sessions, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's full audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sessions"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sess, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}
		if sess == nil {
			return eris.Errorf("session %s not found", args[0])
		}

		executions, err := st.ListExecutions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list executions")
		}

		out := struct {
			Session    *audit.Session          `json:"session"`
			Executions []audit.ExecutionRecord `json:"executions"`
		}{sess, executions}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	sessionsListCmd.Flags().String("symbol", "", "filter by target symbol")
	sessionsListCmd.Flags().Duration("since", 0, "time window (e.g. 24h, 72h)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// formatSessionsList writes a tabular list of sessions to w.
func formatSessionsList(out io.Writer, sessions []audit.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSYMBOL\tOUTCOME\tMODULES\tTOKENS\tCOST\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-------\t------\t----\t-------\t--------")

	for _, s := range sessions {
		dur := ""
		if !s.EndedAt.IsZero() {
			dur = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t$%.4f\t%s\t%s\n",
			truncateID(s.ID),
			s.TargetKey,
			sessionOutcome(s),
			len(s.CompletedModules),
			len(s.RequestedModules),
			s.TotalTokens,
			s.TotalCostUSD,
			s.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// sessionOutcome maps a session's flags to a display label.
func sessionOutcome(s audit.Session) string {
	switch {
	case s.Success:
		return "success"
	case s.PartialSuccess:
		return "partial"
	case s.EndedAt.IsZero():
		return "running"
	default:
		return "failed"
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
