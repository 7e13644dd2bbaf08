package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/audit"
	"github.com/jkaninda/kazi/internal/config"
)

var (
	flagAuditLimit int
	flagAuditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit [correlation-id]",
	Short: "List recorded tool calls, newest first",
	Long: `List tool calls from the audit trail, newest first. With a correlation ID,
only the calls of that run are shown. Requires an audit section in the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var correlationID string
		if len(args) == 1 {
			correlationID = args[0]
		}
		events, err := queryAudit(cmd.Context(), cfg, correlationID, flagAuditLimit)
		if err != nil {
			return err
		}
		if flagAuditJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}
		return printAudit(cmd.OutOrStdout(), events)
	},
}

func init() {
	auditCmd.Flags().IntVarP(&flagAuditLimit, "limit", "n", 20, "maximum number of calls to list")
	auditCmd.Flags().BoolVar(&flagAuditJSON, "json", false, "print events as JSON")
}

// queryAudit opens the configured audit trail read-side and lists events.
func queryAudit(ctx context.Context, cfg *config.Config, correlationID string, limit int) ([]audit.Event, error) {
	if cfg.Audit == nil {
		return nil, errors.New("audit trail is not enabled; add an audit section to the config")
	}
	sink, err := audit.Open(cfg.Audit, newLogger(cfg.Log))
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer sink.Close()

	q, ok := sink.(audit.Querier)
	if !ok {
		return nil, fmt.Errorf("audit driver %q cannot be queried", cfg.Audit.Driver)
	}
	return q.Query(ctx, correlationID, limit)
}

func printAudit(w io.Writer, events []audit.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tTOOL\tKIND\tDURATION")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime), e.CorrelationID, e.Tool, e.Kind,
			time.Duration(e.DurationMS)*time.Millisecond)
	}
	return tw.Flush()
}
