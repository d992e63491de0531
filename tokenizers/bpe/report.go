package bpe

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gomlx/go-bpe/internal/files"
	"github.com/gomlx/go-bpe/tokenizers/api"
)

// Report describes a training run. It is written next to the exported vocabulary.
type Report struct {
	RunID         string    `json:"run_id"`
	Input         string    `json:"input"`
	CreatedAt     time.Time `json:"created_at"`
	VocabSize     int       `json:"vocab_size"`
	TargetSize    int       `json:"target_vocab_size"`
	Merges        int       `json:"merges"`
	SpecialTokens []string  `json:"special_tokens"`
	Parallelism   int       `json:"parallelism"`
	Chunks        int       `json:"chunks"`
	Delimiter     string    `json:"delimiter"`
	Normalization string    `json:"normalization,omitempty"`
	Stats         api.Stats `json:"stats"`
}

// NewReport summarizes the run that produced res from input with opts.
func NewReport(input string, opts api.Options, res *api.Result) Report {
	opts = opts.WithDefaults()
	return Report{
		RunID:         res.RunID,
		Input:         input,
		CreatedAt:     time.Now().UTC(),
		VocabSize:     res.Vocab.Len(),
		TargetSize:    opts.VocabSize,
		Merges:        len(res.Merges),
		SpecialTokens: res.SpecialTokens,
		Parallelism:   opts.Parallelism,
		Chunks:        opts.Chunks,
		Delimiter:     opts.Delimiter,
		Normalization: opts.Normalization,
		Stats:         res.Stats,
	}
}

// Save writes the report as indented JSON.
func (r Report) Save(ctx context.Context, path string) error {
	return files.WriteLocked(ctx, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	})
}
