package voices

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"csm2go/internal/pkg/csm2go/conversation"
)

// LoadPair resolves and decodes the references of speaker 0 and speaker 1.
// Both clips are decoded concurrently; a missing source fails before any
// decoding starts.
func (l *Library) LoadPair(ctx context.Context, sources [2]Source) (conversation.References, error) {
	var refs conversation.References

	type resolved struct {
		audioPath  string
		transcript string
	}
	var paths [2]resolved

	for speaker, src := range sources {
		if src.empty() {
			return refs, &conversation.MissingReferenceError{Speaker: speaker, Missing: "audio"}
		}
		audioPath, transcript, err := l.resolveSource(src)
		if err != nil {
			return refs, err
		}
		if audioPath == "" {
			return refs, &conversation.MissingReferenceError{Speaker: speaker, Missing: "audio"}
		}
		if strings.TrimSpace(transcript) == "" {
			return refs, &conversation.MissingReferenceError{Speaker: speaker, Missing: "transcript"}
		}
		paths[speaker] = resolved{audioPath: audioPath, transcript: transcript}
	}

	g, gctx := errgroup.WithContext(ctx)
	for speaker := range paths {
		g.Go(func() error {
			seg, err := l.loader.Load(gctx, paths[speaker].audioPath, paths[speaker].transcript, speaker)
			if err != nil {
				return err
			}
			refs[speaker] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return conversation.References{}, err
	}

	return refs, nil
}
