package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/worq1337/parcer-sub000/internal/model"

	"github.com/spf13/cobra"
)

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect stored transaction records",
	}

	cmd.AddCommand(recordsRecentCmd())
	cmd.AddCommand(recordsHistoryCmd())
	cmd.AddCommand(recordsMarkDuplicateCmd())

	return cmd
}

func recordsRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.GetRecentRecords(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to load records: %w", err)
			}

			if len(records) == 0 {
				fmt.Println("No records yet.")
				return nil
			}

			printRecordList(records)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of records")
	return cmd
}

func printRecordList(records []model.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DATE\tTYPE\tAMOUNT\tOPERATOR\tCARD\tDUP\tID")
	for i := range records {
		rec := &records[i]
		card := rec.CardLast4
		if card == "" {
			card = "-"
		}
		dup := ""
		if rec.IsDuplicate {
			dup = "dup of " + rec.DuplicateOf
		}
		fmt.Fprintf(w, "%s %s\t%s\t%.2f %s\t%s\t%s\t%s\t%s\n",
			rec.DateDisplay, rec.TimeDisplay, rec.Type,
			rec.Amount, rec.Currency, rec.Operator, card, dup, rec.ID)
	}
}

func recordsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <record-id>",
		Short: "Show the full audit trail of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, closer, err := initTrail(cmd)
			if err != nil {
				return err
			}
			defer closer()

			evts, err := trail.RecordEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if len(evts) == 0 {
				fmt.Println("No events for this record.")
				return nil
			}

			printStageEvents(evts)
			return nil
		},
	}
}

func recordsMarkDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-duplicate <record-id> <original-id>",
		Short: "Manually flag a record as a duplicate of another",
		Long: `Flag a record the pipeline could not match automatically (for example,
two sources that timestamped the same transaction outside the dedup window)
as a duplicate of the original. Flagged records are excluded from future
heuristic duplicate checks.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.MarkAsDuplicate(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to mark duplicate: %w", err)
			}

			slog.Info("Record marked as duplicate", "record", args[0], "original", args[1])
			return nil
		},
	}
}
