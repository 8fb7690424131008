package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/appprecos/enrich-cli/internal/ingest"
	"github.com/appprecos/enrich-cli/internal/ledger"
)

var ingestFromFile bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Ingest one receipt: extract line items and persist them as pending ledger rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var extractor ingest.Extractor
		if ingestFromFile {
			extractor = ingest.FileExtractor{}
		} else {
			// The browser automation extractor lives outside this
			// repository; captured receipts are replayed from disk.
			return eris.New("only --from-file extraction is available in this build")
		}

		ing := ingest.New(st, ledger.NewWriter(st), initCoordinator(st), extractor)

		res, err := ing.Ingest(ctx, url)
		if err != nil {
			if errors.Is(err, ingest.ErrAlreadyProcessed) {
				fmt.Printf("already processed: %s\n", url)
				return nil
			}
			return err
		}

		fmt.Printf("ingested %d line items for market %s (%s)\n",
			res.SavedCount, res.Market.MarketID, res.MarketOutcome)
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestFromFile, "from-file", false, "treat the argument as a path to captured receipt JSON")
	rootCmd.AddCommand(ingestCmd)
}
