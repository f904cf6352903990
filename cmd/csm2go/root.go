package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/config"
	"csm2go/internal/pkg/csm2go/engine"
	"csm2go/internal/pkg/csm2go/voices"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "csm2go",
		Short:         "Voice cloning and two-speaker conversation synthesis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(cloneCmd())
	cmd.AddCommand(converseCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(downloadCmd())
	cmd.AddCommand(voicesCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// setup loads the configuration for cmd, applies logging and returns a
// context carrying the configured logger.
func setup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	cfg, err := config.LoadAndParse(cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Str("model", cfg.ModelPath).
		Str("server_url", cfg.ServerURL).
		Str("device", cfg.Device).
		Float32("temperature", cfg.Temperature).
		Int("max_utterance_ms", cfg.MaxUtteranceMs).
		Msg("Configuration loaded")

	return log.Logger.WithContext(cmd.Context()), cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}

func buildEngineConfig(cfg *config.Config) engine.EngineConfig {
	return engine.EngineConfig{
		ModelPath:  cfg.ModelPath,
		ServerURL:  cfg.ServerURL,
		Device:     cfg.Device,
		SampleRate: cfg.SampleRate,
		Backend:    cfg.Backend,
	}
}

func openEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	log.Ctx(ctx).Info().Str("backend", cfg.Backend).Msg("Loading engine...")
	eng, err := engine.New(cfg.Backend, buildEngineConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load engine %q: %w", cfg.Backend, err)
	}

	info := eng.Info()
	log.Ctx(ctx).Debug().
		Str("engine", info.Name).
		Str("device", info.Device).
		Int("sample_rate", info.SampleRate).
		Msg("Engine loaded")
	return eng, nil
}

func newLibrary(cfg *config.Config, sampleRate int) (*voices.Library, error) {
	loader, err := voices.NewLoader(sampleRate, cfg.VoiceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice loader: %w", err)
	}
	return voices.NewLibrary(cfg.SoundsDir, cfg.PromptsDir, loader), nil
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
