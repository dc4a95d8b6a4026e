package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				err := rt.service.MigrateDatastore(rt.ctx, rt.cfg.GetDatabaseMigrationPath(), models.AllModels()...)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Replay unmatched callbacks and time out stale pending payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				report, err := rt.engine.RunHousekeeping(rt.ctx, purge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d timed_out=%d purged=%d\n",
					report.Replayed, report.TimedOut, report.Purged)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also purge terminal rows past retention")
	return cmd
}

func purgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed payment statuses older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			return withRuntime(func(rt *runtime) error {
				count, err := rt.engine.PurgeCompleted(rt.ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged=%d\n", count)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default PAYMENT_RETENTION_DAYS)")
	return cmd
}

func allocateCmd() *cobra.Command {
	var request business.AllocationRequest
	cmd := &cobra.Command{
		Use:   "allocate [overpayment-id]",
		Short: "Allocate an overpayment to a future contribution, a loan, or a refund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request.OverpaymentID = args[0]
			return withRuntime(func(rt *runtime) error {
				overpayment, err := rt.engine.AllocateOverpayment(rt.ctx, request)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(overpayment)
			})
		},
	}
	cmd.Flags().StringVar(&request.AllocationType, "type", models.AllocationFutureContribution,
		"future_contribution, loan_payment or refund")
	cmd.Flags().StringVar(&request.LoanID, "loan", "", "target loan id for loan_payment")
	cmd.Flags().StringVar(&request.AdminID, "admin", "", "id of the admin making the allocation")
	cmd.Flags().StringVar(&request.Notes, "notes", "", "free text kept with the allocation")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func unmatchedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "Inspect the manual reconciliation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued orphan callbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				items, err := rt.engine.ListUnmatched(rt.ctx)
				if err != nil {
					return err
				}
				writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tCHECKOUT\tRECEIPT\tAMOUNT\tPHONE\tRECEIVED")
				for _, item := range items {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n", item.GetID(), item.CheckoutRequestID,
						item.MpesaReceiptNumber, item.Amount.String(), item.PhoneNumber,
						item.CreatedAt.Format("2006-01-02 15:04"))
				}
				return writer.Flush()
			})
		},
	})

	var admin, notes string
	dismiss := &cobra.Command{
		Use:   "dismiss [unmatched-id]",
		Short: "Close a queued orphan callback after manual handling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				item, err := rt.engine.DismissUnmatched(rt.ctx, args[0], admin, notes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", item.GetID(), item.Status)
				return nil
			})
		},
	}
	dismiss.Flags().StringVar(&admin, "admin", "", "id of the admin dismissing the item")
	dismiss.Flags().StringVar(&notes, "notes", "", "how the payment was handled")
	_ = dismiss.MarkFlagRequired("admin")
	cmd.AddCommand(dismiss)

	return cmd
}
