package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	EntityID      string
	EntityType    string
	Actor         string
	Action        string
	CorrelationID string
	Since         string
	Until         string
	Limit         int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail",
		Long: `List audit events in append order, filtered by entity, actor, action,
correlation id or time window.

Example:
  catsync audit --entity W1KG12345
  catsync audit --actor importer --since 2024-01-01T00:00:00Z --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "record id")
	cmd.Flags().StringVar(&opts.EntityType, "type", "", "record type (work|person)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor")
	cmd.Flags().StringVar(&opts.Action, "action", "", "action (import_update|edit|merge|withdraw|restore)")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation", "", "correlation id of a sync pass or request")
	cmd.Flags().StringVar(&opts.Since, "since", "", "events at or after this RFC3339 time")
	cmd.Flags().StringVar(&opts.Until, "until", "", "events before this RFC3339 time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of events")

	return cmd
}

func (o *AuditOptions) filter() (audit.Filter, error) {
	f := audit.Filter{
		EntityID:      o.EntityID,
		Actor:         o.Actor,
		Action:        audit.Action(o.Action),
		CorrelationID: o.CorrelationID,
		Limit:         o.Limit,
	}
	if o.EntityType != "" {
		t, err := record.ParseType(o.EntityType)
		if err != nil {
			return f, err
		}
		f.EntityType = t
	}
	for _, b := range []struct {
		value string
		dst   **time.Time
	}{{o.Since, &f.Since}, {o.Until, &f.Until}} {
		if b.value == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, b.value)
		if err != nil {
			return f, fmt.Errorf("invalid time %q: %w", b.value, err)
		}
		*b.dst = &ts
	}
	return f, nil
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	f, err := opts.filter()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	events, err := a.store.QueryEvents(cmd.Context(), f)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query audit trail", err)
	}

	if opts.Format == "json" {
		return newFormatter(cmd, opts.RootOptions).Success(events)
	}
	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%d %s %s %s/%s by %s [%s] fields: %s\n",
			ev.Seq, ev.Timestamp.Format(time.RFC3339), ev.Action, ev.EntityType, ev.EntityID,
			ev.Actor, ev.CorrelationID, strings.Join(ev.Diff.Fields(), ", "))
	}
	return nil
}
