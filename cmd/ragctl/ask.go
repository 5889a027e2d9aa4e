package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/app"
	"github.com/medcontent/backend/internal/rag"
)

func init() {
	var technical bool

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask a question and stream the simplified answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			services, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			out := cmd.OutOrStdout()
			resp, err := services.Pipeline.GetChatResponse(ctx, rag.Request{
				Message: strings.Join(args, " "),
				Callbacks: &rag.StreamCallbacks{
					OnToken: func(delta string) {
						fmt.Fprint(out, delta)
					},
				},
			})
			if err != nil {
				return fmt.Errorf("failed to get chat response: %w", err)
			}
			fmt.Fprintln(out)

			if technical {
				heading(out, "Technical answer")
				fmt.Fprintln(out, resp.TechnicalResponse)
			}

			if len(resp.Citations) > 0 {
				heading(out, "Sources")
				for _, c := range resp.Citations {
					fmt.Fprintf(out, "  - %s (%s)\n", c.Text, c.Link)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&technical, "technical", false, "also print the unsimplified answer")
	rootCmd.AddCommand(cmd)
}

func heading(w io.Writer, title string) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "\n%s\n", title)
}
