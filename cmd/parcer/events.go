package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/worq1337/parcer-sub000/internal/events"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the pipeline audit trail",
		Long:  `List, aggregate, backfill, and prune the per-record stage events.`,
	}

	cmd.AddCommand(eventsListCmd())
	cmd.AddCommand(eventsStatsCmd())
	cmd.AddCommand(eventsAuditCmd())
	cmd.AddCommand(eventsBackfillCmd())
	cmd.AddCommand(eventsCleanupCmd())

	return cmd
}

// initTrail opens storage and wraps it in the audit trail, which owns every
// stage-event read and write.
func initTrail(cmd *cobra.Command) (*events.Trail, func(), error) {
	store, err := initStorage(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = store.Close() }
	return events.NewTrail(store, slog.Default()), closer, nil
}

func eventFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("since", 24*time.Hour, "only events newer than this")
	cmd.Flags().String("source", "", "only events from this channel (sms, telegram, manual, photo)")
	cmd.Flags().Bool("errors", false, "only error events")
	cmd.Flags().Int("limit", 50, "maximum number of rows")
}

func eventFilter(cmd *cobra.Command) service.EventFilter {
	since, _ := cmd.Flags().GetDuration("since")
	source, _ := cmd.Flags().GetString("source")
	onlyErrors, _ := cmd.Flags().GetBool("errors")
	limit, _ := cmd.Flags().GetInt("limit")

	from := time.Now().Add(-since)
	return service.EventFilter{
		From:       &from,
		Source:     source,
		OnlyErrors: onlyErrors,
		Limit:      limit,
	}
}

func eventsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent stage events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trail, closer, err := initTrail(cmd)
			if err != nil {
				return err
			}
			defer closer()

			evts, err := trail.Events(cmd.Context(), eventFilter(cmd))
			if err != nil {
				return err
			}

			if len(evts) == 0 {
				fmt.Println("No events in the selected window.")
				return nil
			}

			printStageEvents(evts)
			return nil
		},
	}
	eventFilterFlags(cmd)
	return cmd
}

func printStageEvents(evts []model.StageEvent) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "TIME\tSTAGE\tSTATUS\tSOURCE\tRECORD\tMESSAGE")
	for _, e := range evts {
		recordID := e.RecordID
		if recordID == "" {
			recordID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Stage, e.Status, e.Source, recordID, e.Message)
	}
}

func eventsStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate stage events by stage and status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trail, closer, err := initTrail(cmd)
			if err != nil {
				return err
			}
			defer closer()

			stats, err := trail.Stats(cmd.Context(), eventFilter(cmd))
			if err != nil {
				return err
			}

			if len(stats) == 0 {
				fmt.Println("No events in the selected window.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "STAGE\tSTATUS\tCOUNT\tEARLIEST\tLATEST")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.Stage, s.Status, s.Count,
					s.Earliest.Format("2006-01-02 15:04"),
					s.Latest.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	eventFilterFlags(cmd)
	return cmd
}

func eventsAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <task-id>",
		Short: "Show the engineering audit log of one ingestion task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.GetAuditLogByTask(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load audit log: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No audit entries for this task.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "TIME\tSTAGE\tSTATUS\tDURATION\tRECORD\tMESSAGE")
			for _, e := range entries {
				recordID := e.RecordID
				if recordID == "" {
					recordID = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Stage, e.Status, e.ProcessingTime, recordID, e.Message)
			}
			return nil
		},
	}
}

func eventsBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Backfill saved events for records that predate the audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trail, closer, err := initTrail(cmd)
			if err != nil {
				return err
			}
			defer closer()

			n, err := trail.Backfill(cmd.Context())
			if err != nil {
				return err
			}

			slog.Info("Backfill complete", "events_created", n)
			return nil
		},
	}
}

func eventsCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stage events older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keep, _ := cmd.Flags().GetDuration("keep")

			trail, closer, err := initTrail(cmd)
			if err != nil {
				return err
			}
			defer closer()

			n, err := trail.Cleanup(cmd.Context(), keep)
			if err != nil {
				return err
			}

			slog.Info("Cleanup complete", "events_deleted", n, "keep", keep)
			return nil
		},
	}
	cmd.Flags().Duration("keep", 30*24*time.Hour, "retention window for stage events")
	return cmd
}
