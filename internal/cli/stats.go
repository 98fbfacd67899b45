package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/record"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show record counts per type and status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compute stats", err)
			}
			if rootOpts.Format == "json" {
				return newFormatter(cmd, rootOpts).Success(stats)
			}
			w := cmd.OutOrStdout()
			for _, t := range record.Types {
				s := stats[t]
				fmt.Fprintf(w, "%s: %d total, %d active, %d merges identified, %d withdrawn, %d curated, %d local\n",
					t, s.Total, s.ByStatus[record.StatusActive], s.Merged, s.Withdrawn, s.Curated, s.Local)
			}
			return nil
		},
	}
}

// NewIntegrityCommand creates the integrity command.
func NewIntegrityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity [type...]",
		Short: "Report duplicates whose canonical target is not an active record",
		Long: `Scan duplicate records and report those pointing at a missing record
(pending target), another duplicate (chain) or a withdrawn record.

Exit codes:
  0  no issues
  1  issues found`,
		Args:          cobra.MaximumNArgs(len(record.Types)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseTypes(args)
			if err != nil {
				return err
			}
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			issues := []lifecycle.Issue{}
			for _, t := range types {
				found, err := lifecycle.CheckIntegrity(cmd.Context(), a.store, t)
				if err != nil {
					return WrapExitError(ExitFailure, "integrity scan failed", err)
				}
				issues = append(issues, found...)
			}
			slices.SortFunc(issues, func(x, y lifecycle.Issue) int {
				return strings.Compare(x.RecordID, y.RecordID)
			})

			if rootOpts.Format == "json" {
				if err := newFormatter(cmd, rootOpts).Success(issues); err != nil {
					return err
				}
			} else {
				for _, issue := range issues {
					fmt.Fprintln(cmd.OutOrStdout(), issue)
				}
				if len(issues) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No integrity issues.")
				}
			}
			if len(issues) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d integrity issues", len(issues)))
			}
			return nil
		},
	}
}
