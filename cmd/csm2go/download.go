package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/hub"
)

func downloadCmd() *cobra.Command {
	var noPrompt bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download model weights, built-in prompts and tokenizer files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			var prompt hub.PromptFunc
			if !noPrompt {
				prompt = promptToken
			}

			client, _, err := hub.Authenticate(ctx, cfg.HubEndpoint, cfg.HubToken, hub.NewTokenStore(), prompt)
			if err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}

			files := hub.Manifest(hub.Layout{
				ModelRepo:     cfg.HubRepo,
				TokenizerRepo: cfg.TokenizerRepo,
				ModelsDir:     cfg.ModelsDir,
				PromptsDir:    cfg.PromptsDir,
			})

			startTime := time.Now()
			res, err := client.Fetch(ctx, files)
			if err != nil {
				return err
			}

			log.Ctx(ctx).Info().
				Int("downloaded", res.Downloaded).
				Int("skipped", res.Skipped).
				Dur("elapsed", time.Since(startTime)).
				Msg("Download complete")
			return nil
		},
	}

	cmd.Flags().String("token", "", "Hugging Face access token")
	cmd.Flags().String("endpoint", "", "Hub endpoint")
	cmd.Flags().String("repo", "", "Model repository")
	cmd.Flags().String("tokenizer-repo", "", "Tokenizer repository")
	cmd.Flags().String("models-dir", "", "Directory for weights and tokenizer files")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Fail instead of prompting when no token is available")
	return cmd
}
