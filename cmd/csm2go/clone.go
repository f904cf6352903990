package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/config"
	"csm2go/internal/pkg/csm2go/engine"
	"csm2go/internal/pkg/csm2go/voices"
)

const cloneDefaultMaxMs = 50000

// refArg is one --ref value: speaker:audio:transcript-file.
type refArg struct {
	Speaker        int
	AudioPath      string
	TranscriptPath string
}

func parseRefArg(s string) (refArg, error) {
	invalid := fmt.Errorf("invalid reference %q (want speaker:audio:transcript-file)", s)

	head, rest, ok := strings.Cut(s, ":")
	if !ok {
		return refArg{}, invalid
	}
	speaker, err := strconv.Atoi(head)
	if err != nil || speaker < 0 {
		return refArg{}, fmt.Errorf("invalid speaker id in reference %q", s)
	}

	sep := lastPathColon(rest)
	if sep <= 0 || sep == len(rest)-1 {
		return refArg{}, invalid
	}
	return refArg{Speaker: speaker, AudioPath: rest[:sep], TranscriptPath: rest[sep+1:]}, nil
}

// lastPathColon returns the index of the last colon in s that is not part
// of a drive prefix such as "C:\", or -1.
func lastPathColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' && !isDriveColon(s, i) {
			return i
		}
	}
	return -1
}

func isDriveColon(s string, i int) bool {
	if i < 1 || i+1 >= len(s) {
		return false
	}
	letter := s[i-1]
	if !('a' <= letter && letter <= 'z' || 'A' <= letter && letter <= 'Z') {
		return false
	}
	if i >= 2 && s[i-2] != ':' {
		return false
	}
	return s[i+1] == '\\' || s[i+1] == '/'
}

func cloneCmd() *cobra.Command {
	var (
		refs    []string
		speaker int
		text    string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "clone [text]",
		Short: "Generate one utterance in a voice cloned from reference samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			if text == "" {
				text, err = config.ReadText(file, args, cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			text = strings.TrimSpace(text)
			if text == "" {
				return fmt.Errorf("text is empty")
			}

			refArgs := make([]refArg, 0, len(refs))
			for _, r := range refs {
				ref, err := parseRefArg(r)
				if err != nil {
					return err
				}
				refArgs = append(refArgs, ref)
			}
			if len(refArgs) == 0 {
				return fmt.Errorf("at least one --ref is required")
			}

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			return runClone(ctx, eng, cfg, refArgs, speaker, text)
		},
	}

	cmd.Flags().StringArrayVar(&refs, "ref", nil, "Reference sample as speaker:audio:transcript-file (repeatable)")
	cmd.Flags().IntVar(&speaker, "speaker", 0, "Speaker id to generate as")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to synthesize")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read text from file ('-' for stdin)")
	config.RegisterGenerationFlags(cmd.Flags(), cloneDefaultMaxMs)
	return cmd
}

func runClone(ctx context.Context, eng engine.Engine, cfg *config.Config, refArgs []refArg, speaker int, text string) error {
	loader, err := voices.NewLoader(eng.Info().SampleRate, cfg.VoiceCacheSize)
	if err != nil {
		return err
	}

	segments := make([]engine.Segment, 0, len(refArgs))
	for i, ref := range refArgs {
		transcript, err := os.ReadFile(ref.TranscriptPath)
		if err != nil {
			return fmt.Errorf("failed to read transcript for reference %d: %w", i+1, err)
		}
		seg, err := loader.Load(ctx, ref.AudioPath, strings.TrimSpace(string(transcript)), ref.Speaker)
		if err != nil {
			return err
		}
		log.Ctx(ctx).Info().
			Int("ref", i+1).
			Int("speaker", ref.Speaker).
			Str("audio", ref.AudioPath).
			Float64("duration_sec", seg.Audio.Duration()).
			Msg("Loaded reference")
		segments = append(segments, seg)
	}

	log.Ctx(ctx).Info().Str("text", truncateText(text, 50)).Int("speaker", speaker).Msg("Generating speech with voice cloning...")
	startTime := time.Now()

	result, err := eng.Generate(ctx, engine.GenerateRequest{
		Text:             text,
		Speaker:          speaker,
		Context:          segments,
		MaxAudioLengthMs: cfg.MaxUtteranceMs,
		Temperature:      cfg.Temperature,
		TopK:             cfg.TopK,
	})
	if err != nil {
		return fmt.Errorf("failed to generate audio: %w", err)
	}

	log.Ctx(ctx).Info().
		Dur("elapsed", time.Since(startTime)).
		Float64("duration_sec", result.Duration()).
		Msg("Audio generated with voice cloning")

	if err := result.SaveWAV(cfg.Output); err != nil {
		return fmt.Errorf("failed to save audio: %w", err)
	}
	log.Ctx(ctx).Info().Str("output", cfg.Output).Msg("Audio saved successfully")
	return nil
}
