package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"txcat/internal/amqp"
	"txcat/internal/batch"
	"txcat/internal/categorizer"
	"txcat/internal/cli"
	"txcat/internal/core"
	"txcat/internal/services"
)

func (a *app) submissions() (*services.SubmissionService, error) {
	publisher, err := a.publisher()
	if err != nil {
		return nil, fmt.Errorf("connect to queue: %w", err)
	}
	return services.NewSubmissionService(a.store(), publisher, a.cfg.UploadDir, a.cfg.JobMaxAttempts, a.logger), nil
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		id, amount, timestamp, description, txType, account string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Store one transaction and queue it for categorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("%w: amount %q", core.ErrInvalidTransaction, amount)
			}
			ts := time.Now().UTC()
			if timestamp != "" {
				if ts, err = batch.ParseTimestamp(timestamp); err != nil {
					return fmt.Errorf("%w: %v", core.ErrInvalidTransaction, err)
				}
			}
			typ, err := core.ParseTransactionType(txType)
			if err != nil {
				return err
			}

			svc, err := a.submissions()
			if err != nil {
				return err
			}
			tx, err := svc.SubmitTransaction(cmd.Context(), core.Transaction{
				TransactionID: id,
				Amount:        amt,
				Timestamp:     ts,
				Description:   description,
				Type:          typ,
				AccountNumber: account,
			})
			if err != nil {
				return err
			}
			printTransactions(cmd.OutOrStdout(), []core.Transaction{tx})
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Transaction ID")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Signed amount, negative for debits")
	cmd.Flags().StringVarP(&timestamp, "timestamp", "t", "", "Booking time (default: now)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Transaction description")
	cmd.Flags().StringVar(&txType, "type", string(core.Debit), "debit or credit")
	cmd.Flags().StringVar(&account, "account", "", "Account number")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("description")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Queue a CSV file for background processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], core.ErrFileNotFound)
			}
			defer f.Close()

			svc, err := a.submissions()
			if err != nil {
				return err
			}
			path, err := svc.SubmitFile(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", path)
			return nil
		},
	}
}

func newProcessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process <file.csv>",
		Short: "Categorize and store a CSV file now, without the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateClassifier(); err != nil {
				return err
			}
			ctx := cmd.Context()

			txClassifier, limiter, err := cli.InitClassifier(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer cli.LogUsage(a.logger, limiter, nil)

			repo := a.store()
			service := categorizer.NewService(repo, repo, txClassifier, nil, a.logger)
			processor := batch.NewProcessor(repo, service, a.cfg.BatchConcurrency, a.logger)

			report, err := processor.ProcessFile(ctx, args[0])
			if errors.Is(err, core.ErrEmptyInput) {
				fmt.Fprintln(cmd.OutOrStdout(), "no transactions found")
				return nil
			}
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <transaction-id>",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := a.store().GetTransaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTransactions(cmd.OutOrStdout(), []core.Transaction{tx})
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transactions by timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = 100
			}
			txs, err := a.store().ListTransactions(cmd.Context(), limit, max(offset, 0))
			if err != nil {
				return err
			}
			printTransactions(cmd.OutOrStdout(), txs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories created so far",
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := a.store().ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, c := range categories {
				fmt.Fprintf(w, "%d\t%s\n", c.ID, c.Name)
			}
			return w.Flush()
		},
	}
}

func newRequeueCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Queue categorization for transactions that are still uncategorized",
		RunE: func(cmd *cobra.Command, args []string) error {
			publisher, err := a.publisher()
			if err != nil {
				return fmt.Errorf("connect to queue: %w", err)
			}
			recovery := services.NewRecoveryProcessor(a.store(), publisher, services.RecoveryProcessorConfig{
				GracePeriod: olderThan,
				BatchSize:   limit,
				JobAttempts: a.cfg.JobMaxAttempts,
			}, a.logger)

			n, err := recovery.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d transaction(s)\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only rows created at least this long ago")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "Maximum rows to queue")
	return cmd
}

func printTransactions(out io.Writer, txs []core.Transaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tAMOUNT\tTYPE\tDESCRIPTION\tCATEGORY")
	for _, tx := range txs {
		category := "-"
		if tx.Category != nil {
			category = tx.Category.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.TransactionID,
			tx.Timestamp.Format(time.RFC3339),
			tx.Amount.StringFixed(2),
			tx.Type,
			tx.Description,
			category)
	}
	w.Flush()
}

func printReport(out io.Writer, r *batch.Report) {
	fmt.Fprintf(out, "rows=%d groups=%d persisted=%d categorized=%d failed_groups=%d\n",
		r.Rows, r.Groups, r.Persisted, r.Categorized, r.FailedGroups)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESCRIPTION\tOUTCOME\tCATEGORY\tROWS\tPERSISTED")
	for _, g := range r.Results {
		category := "-"
		if g.Category != nil {
			category = g.Category.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", g.Description, g.Outcome, category, g.Rows, g.Persisted)
	}
	w.Flush()

	if len(r.Uncategorized) > 0 {
		fmt.Fprintf(out, "%d row(s) left uncategorized; run `txcat requeue` once a worker is up\n", len(r.Uncategorized))
	}
}

// Compile-time check that the CLI publishes through the shared transport.
var _ services.JobPublisher = (*amqp.Client)(nil)
