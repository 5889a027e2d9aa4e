package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/app"
	"github.com/medcontent/backend/internal/ingestion"
)

func init() {
	var slug, title string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Chunk, embed and index an article from a markdown or HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read article: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			services, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			res, err := services.Ingestion.ProcessArticle(cmd.Context(), ingestion.Article{
				Slug:    slug,
				Title:   title,
				Content: string(content),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d chunks\n", res.Slug, res.Chunks)
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "article slug (required)")
	cmd.Flags().StringVar(&title, "title", "", "article title (required)")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("title")
	rootCmd.AddCommand(cmd)
}
