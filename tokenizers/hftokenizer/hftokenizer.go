// Package hftokenizer converts trained byte-level BPE vocabularies to and from HuggingFace's tokenizer.json format.
// This format is used by the HuggingFace Tokenizers library (the "fast" tokenizers), and files written here can be
// loaded by it as a GPT-2 style BPE tokenizer.
package hftokenizer

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/internal/files"
	"github.com/gomlx/go-bpe/tokenizers/api"
	"github.com/gomlx/go-bpe/tokenizers/bpe/pretokenize"
)

// TokenizerJSON represents the structure of HuggingFace's tokenizer.json file.
type TokenizerJSON struct {
	Version       string          `json:"version"`
	Truncation    json.RawMessage `json:"truncation"`
	Padding       json.RawMessage `json:"padding"`
	AddedTokens   []AddedToken    `json:"added_tokens"`
	Normalizer    *Normalizer     `json:"normalizer"`
	PreTokenizer  *PreTokenizer   `json:"pre_tokenizer"`
	PostProcessor json.RawMessage `json:"post_processor"`
	Decoder       *Decoder        `json:"decoder"`
	Model         Model           `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type string `json:"type"`
}

// Pattern for regex-based operations.
type Pattern struct {
	Regex  string `json:"Regex,omitempty"`
	String string `json:"String,omitempty"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace *bool          `json:"add_prefix_space,omitempty"`
	TrimOffsets    *bool          `json:"trim_offsets,omitempty"`
	UseRegex       *bool          `json:"use_regex,omitempty"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers,omitempty"`
	Pattern        *Pattern       `json:"pattern,omitempty"`
	Behavior       string         `json:"behavior,omitempty"`
	Invert         *bool          `json:"invert,omitempty"`
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type           string `json:"type"`
	AddPrefixSpace *bool  `json:"add_prefix_space,omitempty"`
	TrimOffsets    *bool  `json:"trim_offsets,omitempty"`
	UseRegex       *bool  `json:"use_regex,omitempty"`
}

// Model represents the BPE tokenizer model.
type Model struct {
	Type                    string         `json:"type"`
	Dropout                 *float64       `json:"dropout"`
	UnkToken                *string        `json:"unk_token"`
	ContinuingSubwordPrefix *string        `json:"continuing_subword_prefix"`
	EndOfWordSuffix         *string        `json:"end_of_word_suffix"`
	FuseUnk                 bool           `json:"fuse_unk"`
	ByteFallback            bool           `json:"byte_fallback"`
	Vocab                   map[string]int `json:"vocab"`
	Merges                  []string       `json:"merges"`
}

func ptr[T any](v T) *T { return &v }

// FromResult builds the tokenizer.json description of a trained vocabulary: a BPE model over GPT-2 byte-level
// symbols, the GPT-2 split pattern followed by the ByteLevel pre-tokenizer, and the special tokens as added tokens.
//
// normalization is the Unicode normalization form used during training, if any.
func FromResult(res *api.Result, normalization string) (*TokenizerJSON, error) {
	vocab, err := EncodeVocab(res)
	if err != nil {
		return nil, err
	}
	tj := &TokenizerJSON{
		Version:       "1.0",
		Truncation:    json.RawMessage("null"),
		Padding:       json.RawMessage("null"),
		PostProcessor: json.RawMessage("null"),
		PreTokenizer: &PreTokenizer{
			Type: "Sequence",
			PreTokenizers: []PreTokenizer{
				{Type: "Split", Pattern: &Pattern{Regex: pretokenize.Pattern}, Behavior: "Isolated", Invert: ptr(false)},
				{Type: "ByteLevel", AddPrefixSpace: ptr(false), TrimOffsets: ptr(true), UseRegex: ptr(false)},
			},
		},
		Decoder: &Decoder{Type: "ByteLevel", AddPrefixSpace: ptr(true), TrimOffsets: ptr(true), UseRegex: ptr(true)},
		Model: Model{
			Type:   "BPE",
			Vocab:  vocab,
			Merges: EncodeMerges(res.Merges),
		},
	}
	if normalization != "" {
		form, err := pretokenize.ParseNormalization(normalization)
		if err != nil {
			return nil, err
		}
		if form != nil {
			tj.Normalizer = &Normalizer{Type: strings.ToUpper(normalization)}
		}
	}
	for id, tok := range res.SpecialTokens {
		tj.AddedTokens = append(tj.AddedTokens, AddedToken{ID: id, Content: tok, Special: true})
	}
	return tj, nil
}

// EncodeVocab maps each token of the vocabulary to its id. Special tokens are kept verbatim, the others are
// encoded with the GPT-2 byte-to-unicode table.
//
// Different ids may hold the same bytes (e.g. a merge reproducing a special token): the first id is kept.
func EncodeVocab(res *api.Result) (map[string]int, error) {
	if res.Vocab.Len() < len(res.SpecialTokens) {
		return nil, errors.Errorf("vocabulary has %d tokens but %d special tokens", res.Vocab.Len(),
			len(res.SpecialTokens))
	}
	vocab := make(map[string]int, res.Vocab.Len())
	for id, tok := range res.Vocab {
		key := EncodeBytes(tok)
		if id < len(res.SpecialTokens) {
			key = string(tok)
		}
		if prev, found := vocab[key]; found {
			klog.Warningf("Token %q (id %d) duplicates id %d, keeping the first", key, id, prev)
			continue
		}
		vocab[key] = id
	}
	return vocab, nil
}

// EncodeMerges returns the merges as "left right" lines of byte-level symbols, in order.
// Byte-level symbols never contain a space, so the separator is unambiguous.
func EncodeMerges(merges []api.Merge) []string {
	lines := make([]string, len(merges))
	for i, m := range merges {
		lines[i] = EncodeBytes(m.Left) + " " + EncodeBytes(m.Right)
	}
	return lines
}

// DecodeMerges parses "left right" lines of byte-level symbols.
func DecodeMerges(lines []string) ([]api.Merge, error) {
	merges := make([]api.Merge, 0, len(lines))
	for i, line := range lines {
		left, right, found := strings.Cut(line, " ")
		if !found || left == "" || right == "" || strings.Contains(right, " ") {
			return nil, errors.Errorf("merge #%d %q is not of the form \"left right\"", i, line)
		}
		l, err := DecodeBytes(left)
		if err != nil {
			return nil, errors.WithMessagef(err, "merge #%d", i)
		}
		r, err := DecodeBytes(right)
		if err != nil {
			return nil, errors.WithMessagef(err, "merge #%d", i)
		}
		merges = append(merges, api.Merge{Left: l, Right: r})
	}
	return merges, nil
}

// Rebuild reconstructs the vocabulary implied by the special tokens and the ordered merge list, and checks it
// against vocab (token -> id, as produced by EncodeVocab).
func Rebuild(specialTokens []string, merges []api.Merge, vocab map[string]int) (*api.Result, error) {
	res := &api.Result{SpecialTokens: specialTokens, Merges: merges}
	res.Vocab = make(api.Vocabulary, 0, len(specialTokens)+api.NumByteTokens+len(merges))
	for _, tok := range specialTokens {
		res.Vocab = append(res.Vocab, []byte(tok))
	}
	for b := range api.NumByteTokens {
		res.Vocab = append(res.Vocab, []byte{byte(b)})
	}
	for _, m := range merges {
		res.Vocab = append(res.Vocab, m.Merged())
	}
	if vocab == nil {
		return res, nil
	}
	if len(vocab) > res.Vocab.Len() {
		return nil, errors.Errorf("vocab has %d entries but special tokens and merges only account for %d",
			len(vocab), res.Vocab.Len())
	}
	for key, id := range vocab {
		tok, found := res.Vocab.Token(id)
		if !found {
			return nil, errors.Errorf("vocab entry %q has id %d, out of range [0, %d)", key, id, res.Vocab.Len())
		}
		var want []byte
		if id < len(specialTokens) {
			want = []byte(key)
		} else {
			var err error
			if want, err = DecodeBytes(key); err != nil {
				return nil, errors.WithMessagef(err, "vocab entry %d", id)
			}
		}
		if string(want) != string(tok) {
			return nil, errors.Errorf("vocab entry %q has id %d, but the merges produce %q for that id", key, id, tok)
		}
	}
	return res, nil
}

// ToResult recovers the trained vocabulary and merge list from a tokenizer.json description.
func (tj *TokenizerJSON) ToResult() (*api.Result, error) {
	if tj.Model.Type != "BPE" {
		return nil, errors.Errorf("tokenizer model type %q is not supported, only BPE", tj.Model.Type)
	}
	added := slices.Clone(tj.AddedTokens)
	slices.SortFunc(added, func(a, b AddedToken) int { return a.ID - b.ID })
	var specialTokens []string
	for i, at := range added {
		if at.ID != i {
			return nil, errors.Errorf("added token %q has id %d, special tokens must occupy the first ids",
				at.Content, at.ID)
		}
		specialTokens = append(specialTokens, at.Content)
	}
	merges, err := DecodeMerges(tj.Model.Merges)
	if err != nil {
		return nil, err
	}
	return Rebuild(specialTokens, merges, tj.Model.Vocab)
}

// Write the tokenizer.json content to w.
func (tj *TokenizerJSON) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(tj), "failed to encode tokenizer.json")
}

// Save writes the tokenizer.json file atomically.
func (tj *TokenizerJSON) Save(ctx context.Context, filePath string) error {
	return files.WriteLocked(ctx, filePath, tj.Write)
}

// Parse tokenizer.json content.
func Parse(content []byte) (*TokenizerJSON, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	return &tj, nil
}

// Load reads a tokenizer.json file and returns the vocabulary and merge list it describes.
func Load(filePath string) (*api.Result, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	tj, err := Parse(content)
	if err != nil {
		return nil, err
	}
	res, err := tj.ToResult()
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid tokenizer file %q", filePath)
	}
	return res, nil
}
