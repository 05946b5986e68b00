package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

func newAuditCmd() *cobra.Command {
	var (
		keyID      int64
		action     string
		since      string
		until      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit ledger",
		Long:  "Show key lifecycle events and authentication attempts, newest first.",
		Example: `  keygate audit --limit 20
  keygate audit --key-id 3 --action auth_failed
  keygate audit --since 2026-08-01T00:00:00Z --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(keyID, action, since, until, limit, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&keyID, "key-id", 0, "Only entries about this key")
	cmd.Flags().StringVar(&action, "action", "", "Only entries with this action (create, update, deactivate, delete, rotate, auth_success, auth_failed)")
	cmd.Flags().StringVar(&since, "since", "", "Only entries at or after this RFC 3339 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "Only entries before this RFC 3339 timestamp")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAudit(keyID int64, action, since, until string, limit int, jsonOutput bool) error {
	filter := store.AuditFilter{Action: model.AuditAction(action)}
	if keyID != 0 {
		filter.APIKeyID = &keyID
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fmt.Errorf("invalid --since timestamp %q: %w", since, err)
		}
		filter.Since = &t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return fmt.Errorf("invalid --until timestamp %q: %w", until, err)
		}
		filter.Until = &t
	}

	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	entries, total, err := svcs.audit.Query(context.Background(), filter, limit, 0)
	if err != nil {
		return fmt.Errorf("query audit ledger: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"entries": entries,
			"total":   total,
		})
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries match.")
		return nil
	}

	fmt.Printf("%-20s %-14s %-8s %-8s %-16s %s\n", "TIMESTAMP", "ACTION", "KEY", "ACTOR", "SOURCE", "DETAILS")
	for _, e := range entries {
		fmt.Printf("%-20s %-14s %-8s %-8s %-16s %s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.Action,
			formatOptionalID(e.APIKeyID),
			formatOptionalID(e.ActorKeyID),
			e.SourceIP,
			e.Details,
		)
	}
	if int64(len(entries)) < total {
		fmt.Printf("\nShowing %d of %d entries. Use --limit to see more.\n", len(entries), total)
	}
	return nil
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}
