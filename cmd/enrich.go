package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/appprecos/enrich-cli/internal/worker"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment pass over pending ledger rows",
	Long:  "Drains pending purchase lines through the identity waterfall in batches. Exits when the queue is empty or the credential pool is exhausted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := initResolver(st)
		if err != nil {
			return err
		}

		w := worker.New(st, res, initUpserter(st), worker.Config{
			BatchSize:   cfg.Worker.BatchSize,
			Sleep:       cfg.Worker.SleepInterval(),
			MaxAttempts: cfg.Worker.MaxAttempts,
		})

		summary, err := w.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("processed %d: %d completed, %d failed, %d backlogged\n",
			summary.Processed, summary.Completed, summary.Failed, summary.Backlogged)
		if summary.RateLimited {
			fmt.Println("run aborted: credential pool exhausted, remaining items left pending")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
