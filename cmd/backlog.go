package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backlogLimit int

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Inspect and curate terminally unresolved items",
}

var backlogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items awaiting manual curation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.ListBacklog(ctx, backlogLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("backlog is empty")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%s  line=%d  market=%s  ncm=%s  %q  (%s)\n",
				item.ID, item.PurchaseLineID, item.MarketID, item.TaxCategory, item.RawText, item.Reason)
		}
		return nil
	},
}

var backlogRequeueCmd = &cobra.Command{
	Use:   "requeue <backlog-id>",
	Short: "Put a curated item back into the enrichment queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RequeueBacklogItem(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("requeued %s\n", args[0])
		return nil
	},
}

func init() {
	backlogListCmd.Flags().IntVar(&backlogLimit, "limit", 100, "maximum items to list")
	backlogCmd.AddCommand(backlogListCmd)
	backlogCmd.AddCommand(backlogRequeueCmd)
	rootCmd.AddCommand(backlogCmd)
}
