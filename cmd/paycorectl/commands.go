package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cassiomorais/paycore/internal/controller"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/spf13/cobra"
)

type paymentOps interface {
	GetPaymentStatus(ctx context.Context, transactionID string) (*payment.Transaction, error)
	GetPaymentHistory(ctx context.Context, customerID string) ([]*payment.Transaction, error)
	GetPaymentHistoryByReservation(ctx context.Context, reservationID string) ([]*payment.Transaction, error)
	RefundPayment(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error)
}

type providerStatuses interface {
	Statuses() []providers.ProviderStatus
}

type eventReader interface {
	Recent(ctx context.Context, count int64) ([]infraRedis.StreamEvent, error)
}

type deps struct {
	payments  paymentOps
	providers providerStatuses
	events    eventReader
}

// newRootCmd builds the command tree. connect runs once, before the first
// subcommand needs the ledger.
func newRootCmd(out io.Writer, connect func(ctx context.Context) (*deps, error)) *cobra.Command {
	var d *deps

	root := &cobra.Command{
		Use:           "paycorectl",
		Short:         "Operate the paycore payment ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			d, err = connect(cmd.Context())
			return err
		},
	}
	root.SetOut(out)

	root.AddCommand(
		&cobra.Command{
			Use:   "providers",
			Short: "List registered providers and whether they are enabled",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(out, d.providers.Statuses())
			},
		},
		&cobra.Command{
			Use:   "status <transaction-id>",
			Short: "Show a transaction, syncing its status with the provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tx, err := d.payments.GetPaymentStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, controller.FromTransaction(tx))
			},
		},
		historyCmd(out, func() *deps { return d }),
		refundCmd(out, func() *deps { return d }),
		eventsCmd(out, func() *deps { return d }),
	)
	return root
}

func historyCmd(out io.Writer, d func() *deps) *cobra.Command {
	var customerID, reservationID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List transactions for a customer or a reservation, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				txs []*payment.Transaction
				err error
			)
			switch {
			case customerID != "" && reservationID != "":
				return errors.New("use either --customer or --reservation, not both")
			case customerID != "":
				txs, err = d().payments.GetPaymentHistory(cmd.Context(), customerID)
			case reservationID != "":
				txs, err = d().payments.GetPaymentHistoryByReservation(cmd.Context(), reservationID)
			default:
				return errors.New("one of --customer or --reservation is required")
			}
			if err != nil {
				return err
			}
			return printJSON(out, controller.FromTransactions(txs))
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&reservationID, "reservation", "", "reservation id")
	return cmd
}

func refundCmd(out io.Writer, d func() *deps) *cobra.Command {
	var (
		amount int64
		reason string
	)
	cmd := &cobra.Command{
		Use:   "refund <transaction-id>",
		Short: "Refund a transaction, fully unless --amount is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := payment.RefundRequest{TransactionID: args[0], Reason: reason}
			if cmd.Flags().Changed("amount") {
				req.Amount = &amount
			}
			result, err := d().payments.RefundPayment(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := printJSON(out, controller.FromRefundResult(result)); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("refund rejected: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the refund")
	return cmd
}

func eventsCmd(out io.Writer, d func() *deps) *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent events relayed to the event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := d().events.Recent(cmd.Context(), count)
			if err != nil {
				return err
			}
			return printJSON(out, events)
		},
	}
	cmd.Flags().Int64Var(&count, "count", 20, "number of events to show")
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
