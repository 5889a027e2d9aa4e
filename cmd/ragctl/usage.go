package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/usage"
)

func init() {
	var timeRange string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print token usage and cost per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := usage.NewTracker(store, cfg.Usage.Rates).GetUsageStats(cmd.Context(), timeRange)
			if err != nil {
				return err
			}

			models := make([]string, 0, len(stats.Summary))
			for model := range stats.Summary {
				models = append(models, model)
			}
			sort.Strings(models)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Model", "Input", "Output", "Other", "Total", "Cost (USD)"})
			for _, model := range models {
				u := stats.Summary[model]
				table.Append([]string{
					model,
					strconv.Itoa(u.InputTokens),
					strconv.Itoa(u.OutputTokens),
					strconv.Itoa(u.OtherTokens),
					strconv.Itoa(u.TotalTokens),
					fmt.Sprintf("%.4f", u.Cost),
				})
			}
			table.SetFooter([]string{"", "", "", "", "Total", fmt.Sprintf("%.4f", stats.GrandTotalCost)})
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&timeRange, "range", "", "time range: today, week, month (default all time)")
	rootCmd.AddCommand(cmd)
}
