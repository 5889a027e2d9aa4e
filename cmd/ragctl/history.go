package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/storage/models"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <conversationId>",
		Short: "Print the logged exchanges of a conversation with their sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListChatRecords(ctx, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no exchanges logged for conversation %s", args[0])
			}

			sources, err := store.GetChatSources(ctx, args[0])
			if err != nil {
				return err
			}
			byExchange := make(map[int64][]models.ChatSource)
			for _, s := range sources {
				byExchange[s.ExchangeID] = append(byExchange[s.ExchangeID], s)
			}

			out := cmd.OutOrStdout()
			for i, r := range records {
				heading(out, fmt.Sprintf("Turn %d  %s  (%d ms)", i+1, r.CreatedAt.Format("2006-01-02 15:04:05"), r.LatencyMS))
				fmt.Fprintf(out, "Q: %s\n", r.Message)
				if r.OptimizedQuery != "" && r.OptimizedQuery != r.Message {
					fmt.Fprintf(out, "   searched as: %s\n", r.OptimizedQuery)
				}
				fmt.Fprintf(out, "A: %s\n", r.Response)
				for _, s := range byExchange[r.ID] {
					fmt.Fprintf(out, "  %s %s (%.2f)\n", s.Label, s.Link, s.Similarity)
				}
			}
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
