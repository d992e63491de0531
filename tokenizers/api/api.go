// Package api defines the types shared by the BPE trainer and its exporters.
// It's just a hack to break the cyclic dependency, and allow the exporters to consume training results
// without importing the trainer.
package api

import (
	"bytes"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// NumByteTokens is the number of single-byte tokens every byte-level vocabulary starts with.
const NumByteTokens = 256

// DefaultDelimiter is the special token used to align corpus chunks when none is configured.
const DefaultDelimiter = "<|endoftext|>"

// Configuration errors, reported before any corpus is read.
var (
	ErrVocabTooSmall         = errors.New("target vocabulary size is smaller than the initial vocabulary")
	ErrDuplicateSpecialToken = errors.New("duplicate special token")
	ErrEmptySpecialToken     = errors.New("empty special token")
)

// Merge is one accepted merge rule: Left followed by Right becomes Left+Right.
type Merge struct {
	Left, Right []byte
}

// Merged returns the byte token produced by the merge.
func (m Merge) Merged() []byte {
	out := make([]byte, 0, len(m.Left)+len(m.Right))
	out = append(out, m.Left...)
	return append(out, m.Right...)
}

// Equal reports whether both merges join the same tokens.
func (m Merge) Equal(other Merge) bool {
	return bytes.Equal(m.Left, other.Left) && bytes.Equal(m.Right, other.Right)
}

// Vocabulary maps a dense token id (the index) to its byte token.
//
// The layout is fixed: special tokens first (in configuration order), then the 256 single bytes,
// then one token per merge in acceptance order.
type Vocabulary [][]byte

// Len returns the number of ids in the vocabulary.
func (v Vocabulary) Len() int { return len(v) }

// Token returns the bytes for id, or false if id is out of range.
func (v Vocabulary) Token(id int) ([]byte, bool) {
	if id < 0 || id >= len(v) {
		return nil, false
	}
	return v[id], true
}

// Result is the output of a training run.
type Result struct {
	// RunID uniquely identifies the training run that produced this result.
	RunID string

	// Vocab holds ids 0..len(Vocab)-1.
	Vocab Vocabulary

	// Merges are in strict acceptance order. Merges[i] produced Vocab[len(SpecialTokens)+256+i].
	Merges []Merge

	// SpecialTokens as configured, occupying ids 0..len(SpecialTokens)-1.
	SpecialTokens []string

	// Stats about the run; zero when the result was loaded from disk.
	Stats Stats
}

// Stats summarizes a training run.
type Stats struct {
	Chunks          int           `json:"chunks"`
	Pretokens       int           `json:"pretokens"`
	PretokenTotal   int64         `json:"pretoken_total"`
	InitialPairs    int           `json:"initial_pairs"`
	MergesPerformed int           `json:"merges_performed"`
	StalePops       int           `json:"stale_pops"`
	TerminatedEarly bool          `json:"terminated_early"`
	PretokenizeTime time.Duration `json:"pretokenize_time"`
	MergeTime       time.Duration `json:"merge_time"`
}

// Options configure a training run.
type Options struct {
	// VocabSize is the target vocabulary size, including special and byte tokens.
	VocabSize int

	// SpecialTokens are atomic strings: never split nor merged with neighbors.
	SpecialTokens []string

	// Parallelism is the number of concurrent pretokenization workers. Defaults to 1.
	Parallelism int

	// Chunks is the desired number of corpus chunks. Defaults to Parallelism.
	// It is forced to 1 when Delimiter is not a special token: a chunk boundary could otherwise fall
	// inside a pretoken and the result would depend on the number of chunks.
	Chunks int

	// Delimiter aligns chunk boundaries. Defaults to the first special token, or DefaultDelimiter.
	Delimiter string

	// Normalization is an optional Unicode normalization form ("NFC", "NFD", "NFKC", "NFKD")
	// applied to text before splitting. Empty means none.
	Normalization string

	// ProgressEvery logs progress every that many merges. 0 disables it.
	ProgressEvery int
}

// InitialVocabSize is the size of the vocabulary before any merge.
func (o Options) InitialVocabSize() int {
	return len(o.SpecialTokens) + NumByteTokens
}

// Validate checks the configuration without touching the corpus.
func (o Options) Validate() error {
	seen := make(map[string]bool, len(o.SpecialTokens))
	for _, tok := range o.SpecialTokens {
		if tok == "" {
			return ErrEmptySpecialToken
		}
		if seen[tok] {
			return errors.WithMessagef(ErrDuplicateSpecialToken, "%q", tok)
		}
		seen[tok] = true
	}
	if o.VocabSize < o.InitialVocabSize() {
		return errors.WithMessagef(ErrVocabTooSmall, "vocab size %d < %d special tokens + %d bytes",
			o.VocabSize, len(o.SpecialTokens), NumByteTokens)
	}
	if o.Parallelism < 0 || o.Chunks < 0 {
		return errors.Errorf("parallelism (%d) and chunks (%d) must not be negative", o.Parallelism, o.Chunks)
	}
	return nil
}

// WithDefaults returns a copy of o with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.Chunks <= 0 {
		o.Chunks = o.Parallelism
	}
	if o.Delimiter == "" {
		if len(o.SpecialTokens) > 0 {
			o.Delimiter = o.SpecialTokens[0]
		} else {
			o.Delimiter = DefaultDelimiter
		}
	}
	if !o.DelimiterIsSpecial() {
		o.Chunks = 1
	}
	return o
}

// DelimiterIsSpecial reports whether the chunk delimiter is one of the special tokens.
func (o Options) DelimiterIsSpecial() bool {
	return slices.Contains(o.SpecialTokens, o.Delimiter)
}
