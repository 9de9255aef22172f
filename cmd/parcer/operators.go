package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/operators"

	"github.com/spf13/cobra"
)

func operatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operators",
		Short: "Manage the merchant/operator directory",
		Long: `The directory maps free-text operator names from notifications to a
canonical application label and a P2P flag. Records normalized before an
operator existed are not rewritten; the mapping applies from the moment
it is added.`,
	}

	cmd.AddCommand(operatorsListCmd())
	cmd.AddCommand(operatorsAddCmd())
	cmd.AddCommand(operatorsSeedCmd())

	return cmd
}

func operatorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List directory entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ops, err := store.GetOperators(ctx)
			if err != nil {
				return fmt.Errorf("failed to get operators: %w", err)
			}

			if len(ops) == 0 {
				fmt.Println("Directory is empty. Use 'parcer operators seed' to load the defaults.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "ID\tNAME\tAPP\tP2P\tSYNONYMS")
			for _, op := range ops {
				p2p := ""
				if op.IsP2P {
					p2p = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					op.ID, op.CanonicalName, op.AppName, p2p,
					strings.Join(op.Synonyms, ", "))
			}
			return nil
		},
	}
}

func operatorsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <canonical-name>",
		Short: "Add or update a directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _ := cmd.Flags().GetString("app")
			p2p, _ := cmd.Flags().GetBool("p2p")
			synonyms, _ := cmd.Flags().GetStringSlice("synonyms")

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			op := &model.Operator{
				CanonicalName: args[0],
				AppName:       app,
				Synonyms:      synonyms,
				IsP2P:         p2p,
			}
			if op.AppName == "" {
				op.AppName = op.CanonicalName
			}

			if err := operators.NewDirectory(store).Add(ctx, op); err != nil {
				return err
			}

			slog.Info("Operator saved", "name", op.CanonicalName, "app", op.AppName, "p2p", op.IsP2P)
			return nil
		},
	}

	cmd.Flags().String("app", "", "application label (defaults to the canonical name)")
	cmd.Flags().Bool("p2p", false, "mark transfers to this operator as P2P")
	cmd.Flags().StringSlice("synonyms", nil, "comma-separated alternative spellings")

	return cmd
}

func operatorsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the default operator set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := operators.Seed(ctx, store); err != nil {
				return fmt.Errorf("failed to seed directory: %w", err)
			}

			slog.Info("Directory seeded with default operators")
			return nil
		},
	}
}
