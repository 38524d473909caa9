package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the append-only audit log",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit events with optional filters",
	RunE:  auditQuery,
}

func init() {
	auditQueryCmd.Flags().String("action", "", "filter by action name")
	auditQueryCmd.Flags().String("entry", "", "filter by entry ID")
	auditQueryCmd.Flags().String("grant", "", "filter by grant ID")
	auditQueryCmd.Flags().String("share", "", "filter by analysis share ID")
	auditQueryCmd.Flags().Bool("failures", false, "only failed operations")
	auditQueryCmd.Flags().Bool("key-access", false, "only key-material-related events")
	auditQueryCmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	auditQueryCmd.Flags().Int("limit", 50, "maximum events to return")

	auditCmd.AddCommand(auditQueryCmd)
	rootCmd.AddCommand(auditCmd)
}

func auditQuery(cmd *cobra.Command, args []string) error {
	opts := audit.QueryOptions{
		UserID: userID,
	}
	opts.Action, _ = cmd.Flags().GetString("action")
	opts.EntryID, _ = cmd.Flags().GetString("entry")
	opts.GrantID, _ = cmd.Flags().GetString("grant")
	opts.ShareID, _ = cmd.Flags().GetString("share")
	opts.KeyAccess, _ = cmd.Flags().GetBool("key-access")
	opts.Limit, _ = cmd.Flags().GetInt("limit")

	if failures, _ := cmd.Flags().GetBool("failures"); failures {
		success := false
		opts.Success = &success
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		t := time.Now().Add(-since)
		opts.Since = &t
	}

	result, err := vault.GetAudit().Query(opts)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOK\tTARGET\tERROR")
	for _, e := range result.Events {
		target := e.EntryID
		if target == "" {
			target = e.GrantID
		}
		if target == "" {
			target = e.ShareID
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Action, e.Success, target, e.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d shown of %d matching events\n", len(result.Events), result.Filtered)
	return nil
}
