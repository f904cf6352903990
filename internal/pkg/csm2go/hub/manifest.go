package hub

import (
	"context"
	"fmt"
	"path/filepath"
)

// File is one artifact to fetch from a repo.
type File struct {
	Repo string
	Path string
	Dest string
}

type Layout struct {
	ModelRepo     string
	TokenizerRepo string
	ModelsDir     string
	PromptsDir    string
}

// Manifest lists the weights, the two built-in conversational prompts and
// the text tokenizer files.
func Manifest(l Layout) []File {
	if l.ModelRepo == "" {
		l.ModelRepo = DefaultModelRepo
	}
	if l.TokenizerRepo == "" {
		l.TokenizerRepo = DefaultTokenizerRepo
	}

	files := []File{
		{Repo: l.ModelRepo, Path: "model.safetensors", Dest: filepath.Join(l.ModelsDir, "model.safetensors")},
	}
	for _, name := range []string{"conversational_a.wav", "conversational_b.wav"} {
		files = append(files, File{
			Repo: l.ModelRepo,
			Path: "prompts/" + name,
			Dest: filepath.Join(l.PromptsDir, name),
		})
	}
	for _, name := range []string{"tokenizer.json", "tokenizer_config.json"} {
		files = append(files, File{
			Repo: l.TokenizerRepo,
			Path: name,
			Dest: filepath.Join(l.ModelsDir, "tokenizer", name),
		})
	}
	return files
}

type Result struct {
	Downloaded int
	Skipped    int
}

// Fetch downloads every file in order and stops at the first failure.
func (c *Client) Fetch(ctx context.Context, files []File) (Result, error) {
	var res Result
	for _, f := range files {
		wrote, err := c.Download(ctx, f.Repo, f.Path, f.Dest)
		if err != nil {
			return res, fmt.Errorf("failed to fetch %s: %w", f.Path, err)
		}
		if wrote {
			res.Downloaded++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}
