package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"

	"csm2go/internal/pkg/csm2go/preprocess"
)

// Tokenizer is a greedy longest-match encoder over a vocab.json export of
// the text tokenizer.
type Tokenizer struct {
	tokenToID    map[string]int64
	bosID        int64
	eosID        int64
	unkID        int64
	sortedTokens []string
}

type vocabFile struct {
	Vocab map[string]int64 `json:"vocab"`
	BOS   *int64           `json:"bos_id"`
	EOS   *int64           `json:"eos_id"`
	UNK   *int64           `json:"unk_id"`
}

func NewTokenizer(vocabPath string) (*Tokenizer, error) {
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}

	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse vocab JSON: %w", err)
	}
	if len(vf.Vocab) == 0 {
		return nil, fmt.Errorf("vocab file %s has no tokens", vocabPath)
	}

	return newTokenizer(vf), nil
}

func newTokenizer(vf vocabFile) *Tokenizer {
	t := &Tokenizer{
		tokenToID: vf.Vocab,
		bosID:     1,
		eosID:     2,
		unkID:     3,
	}
	if vf.BOS != nil {
		t.bosID = *vf.BOS
	}
	if vf.EOS != nil {
		t.eosID = *vf.EOS
	}
	if vf.UNK != nil {
		t.unkID = *vf.UNK
	}

	t.sortedTokens = make([]string, 0, len(t.tokenToID))
	for token := range t.tokenToID {
		t.sortedTokens = append(t.sortedTokens, token)
	}
	sort.Slice(t.sortedTokens, func(i, j int) bool {
		if len(t.sortedTokens[i]) != len(t.sortedTokens[j]) {
			return len(t.sortedTokens[i]) > len(t.sortedTokens[j])
		}
		return t.sortedTokens[i] < t.sortedTokens[j]
	})
	return t
}

// EncodeTurn tokenizes text in the "[speaker]text" layout the model was
// trained on.
func (t *Tokenizer) EncodeTurn(speaker int, text string) []int64 {
	return t.Encode(fmt.Sprintf("[%d]%s", speaker, preprocess.Prepare(text)))
}

func (t *Tokenizer) Encode(text string) []int64 {
	tokens := make([]int64, 0, len(text)+2)
	tokens = append(tokens, t.bosID)

	remaining := text
	for len(remaining) > 0 {
		found := false
		for _, token := range t.sortedTokens {
			if len(token) <= len(remaining) && remaining[:len(token)] == token {
				tokens = append(tokens, t.tokenToID[token])
				remaining = remaining[len(token):]
				found = true
				break
			}
		}
		if !found {
			_, size := utf8.DecodeRuneInString(remaining)
			tokens = append(tokens, t.unkID)
			remaining = remaining[size:]
		}
	}

	tokens = append(tokens, t.eosID)
	return tokens
}

func (t *Tokenizer) VocabSize() int {
	return len(t.tokenToID)
}
