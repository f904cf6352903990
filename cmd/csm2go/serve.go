package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/config"
	"csm2go/internal/pkg/csm2go/conversation"
	"csm2go/internal/pkg/csm2go/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversation synthesis over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			lib, err := newLibrary(cfg, eng.Info().SampleRate)
			if err != nil {
				return err
			}

			srv, err := server.New(eng, lib, server.Options{
				MaxUtteranceMs: cfg.MaxUtteranceMs,
				Temperature:    cfg.Temperature,
				TopK:           cfg.TopK,
				SilenceMs:      cfg.SilenceMs,
				RateLimitRPM:   cfg.RateLimitRPM,
			}, log.Logger)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, cfg.Listen)
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on")
	cmd.Flags().Int("rate-limit", 30, "Generation requests per minute per client (0 disables)")
	cmd.Flags().Int("silence-ms", conversation.DefaultSilenceMs, "Silence between turns in ms")
	config.RegisterGenerationFlags(cmd.Flags(), conversation.DefaultMaxUtteranceMs)
	return cmd
}
