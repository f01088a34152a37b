package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"txcat/internal/amqp"
	"txcat/internal/cli"
	"txcat/internal/config"
	"txcat/internal/log"
	"txcat/internal/storage"
)

// app holds the dependencies shared by every subcommand. They are opened
// lazily so that commands only connect to what they use.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	repo   *storage.SQLiteRepository
	queue  *amqp.Client
}

func (a *app) store() *storage.SQLiteRepository {
	if a.repo == nil {
		a.repo = cli.InitSQLite(a.logger, a.cfg.SQLiteDBPath)
	}
	return a.repo
}

func (a *app) publisher() (*amqp.Client, error) {
	if a.queue == nil {
		client, err := amqp.NewClient(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.cfg.AMQPQueue, a.logger)
		if err != nil {
			return nil, err
		}
		a.queue = client
	}
	return a.queue, nil
}

func (a *app) close() {
	if a.queue != nil {
		a.queue.Close()
		a.queue = nil
	}
	if a.repo != nil {
		a.repo.Close()
		a.repo = nil
	}
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "txcat",
		Short: "Submit and inspect categorized bank transactions",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr so command output stays pipeable
			a.cfg, a.logger = cli.Bootstrap(os.Stderr)
			a.logger = a.logger.WithComponent(log.ComponentCLI)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	rootCmd.AddCommand(
		newSubmitCmd(a),
		newUploadCmd(a),
		newProcessCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newCategoriesCmd(a),
		newRequeueCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		a.close()
		os.Exit(1)
	}
}
