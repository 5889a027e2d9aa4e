package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "article <slug>",
		Short: "Show an indexed article and how often each chunk was retrieved",
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

			article, err := store.GetArticle(ctx, args[0])
			if err != nil {
				return err
			}
			chunks, err := store.GetChunks(ctx, article.Slug)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			heading(out, article.Title)
			fmt.Fprintf(out, "slug %s, updated %s\n", article.Slug, article.UpdatedAt.Format("2006-01-02 15:04"))
			if article.Excerpt != "" {
				fmt.Fprintln(out, article.Excerpt)
			}
			fmt.Fprintln(out)

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"#", "Chunk", "Retrieved", "Preview"})
			total := 0
			for _, ch := range chunks {
				total += ch.RetrievedCount
				table.Append([]string{
					strconv.Itoa(ch.ChunkIndex),
					ch.ID,
					strconv.Itoa(ch.RetrievedCount),
					preview(ch.Text, 60),
				})
			}
			table.SetFooter([]string{"", "", strconv.Itoa(total), fmt.Sprintf("%d chunks", len(chunks))})
			table.Render()
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
