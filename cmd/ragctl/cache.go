package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/cache/redis"
)

func init() {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the embedding cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Delete every cached embedding",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis is not enabled")
			}

			client, err := redis.NewClient(cmd.Context(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
				time.Duration(cfg.Redis.EmbeddingTTLSec)*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := client.InvalidateEmbeddings(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached embeddings\n", n)
			return nil
		},
	})

	rootCmd.AddCommand(cacheCmd)
}
