package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appprecos/enrich-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrichment queue and extraction record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.EnrichmentCounts(ctx)
		if err != nil {
			return err
		}

		fmt.Println("enrichment queue:")
		for _, status := range []model.EnrichmentStatus{
			model.EnrichmentPending,
			model.EnrichmentCompleted,
			model.EnrichmentFailed,
			model.EnrichmentBacklog,
		} {
			fmt.Printf("  %-10s %d\n", status, counts[status])
		}

		for _, status := range []model.RecordStatus{model.RecordProcessing, model.RecordExtracting} {
			records, err := st.ListRecordsInStatus(ctx, status)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				continue
			}
			fmt.Printf("\nrecords %s:\n", status)
			for _, r := range records {
				fmt.Printf("  %s  %s  (since %s)\n", r.ID, r.URL, r.StartedAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
