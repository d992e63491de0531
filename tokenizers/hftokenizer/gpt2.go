package hftokenizer

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/internal/files"
	"github.com/gomlx/go-bpe/tokenizers/api"
)

// File names written by Export.
const (
	TokenizerFile = "tokenizer.json"
	VocabFile     = "vocab.json"
	MergesFile    = "merges.txt"
)

// mergesHeader is the first line of GPT-2 merges.txt files.
const mergesHeader = "#version: 0.2"

// WriteVocabJSON writes vocab as a JSON object ordered by id, one entry per line, as in GPT-2's vocab.json.
func WriteVocabJSON(w io.Writer, vocab map[string]int) error {
	keys := make([]string, 0, len(vocab))
	for key := range vocab {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int { return cmp.Compare(vocab[a], vocab[b]) })

	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString("{\n")
	for i, key := range keys {
		// encoding/json would escape "<" and ">" in special tokens.
		var quoted strings.Builder
		enc := json.NewEncoder(&quoted)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(key); err != nil {
			return errors.Wrapf(err, "failed to encode vocab entry %q", key)
		}
		sep := ","
		if i == len(keys)-1 {
			sep = ""
		}
		_, _ = bw.WriteString("  " + strings.TrimSuffix(quoted.String(), "\n") + ": ")
		_, _ = bw.WriteString(strconv.Itoa(vocab[key]) + sep + "\n")
	}
	_, _ = bw.WriteString("}\n")
	return errors.Wrap(bw.Flush(), "failed to write vocab.json")
}

// WriteMerges writes the merges.txt format: a version header and one "left right" line per merge, in order.
func WriteMerges(w io.Writer, merges []api.Merge) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(mergesHeader + "\n")
	for _, line := range EncodeMerges(merges) {
		_, _ = bw.WriteString(line + "\n")
	}
	return errors.Wrap(bw.Flush(), "failed to write merges.txt")
}

// ReadMerges parses the merges.txt format. A first line starting with "#version" is the header, and blank
// lines are ignored. Any other line is a merge, including those starting with "#", a byte like any other.
func ReadMerges(r io.Reader) ([]api.Merge, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for first := true; scanner.Scan(); first = false {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || (first && strings.HasPrefix(line, "#version")) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read merges")
	}
	return DecodeMerges(lines)
}

// LoadGPT2 reads a vocab.json and merges.txt pair. The special tokens are not marked in those files, so they
// must be given: they occupy the first ids.
func LoadGPT2(vocabPath, mergesPath string, specialTokens []string) (*api.Result, error) {
	content, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file %q", vocabPath)
	}
	var vocab map[string]int
	if err := json.Unmarshal(content, &vocab); err != nil {
		return nil, errors.Wrapf(err, "failed to parse vocabulary file %q", vocabPath)
	}
	f, err := os.Open(mergesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open merges file %q", mergesPath)
	}
	defer func() { _ = f.Close() }()
	merges, err := ReadMerges(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "merges file %q", mergesPath)
	}
	return Rebuild(specialTokens, merges, vocab)
}

// Export writes tokenizer.json, vocab.json and merges.txt for res into dir, creating it if needed.
func Export(ctx context.Context, dir string, res *api.Result, normalization string) error {
	if err := os.MkdirAll(dir, files.DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create output directory %q", dir)
	}
	tj, err := FromResult(res, normalization)
	if err != nil {
		return err
	}
	if err := tj.Save(ctx, filepath.Join(dir, TokenizerFile)); err != nil {
		return err
	}
	err = files.WriteLocked(ctx, filepath.Join(dir, VocabFile), func(w io.Writer) error {
		return WriteVocabJSON(w, tj.Model.Vocab)
	})
	if err != nil {
		return err
	}
	err = files.WriteLocked(ctx, filepath.Join(dir, MergesFile), func(w io.Writer) error {
		return WriteMerges(w, res.Merges)
	})
	if err != nil {
		return err
	}
	klog.V(1).Infof("Exported %d tokens and %d merges to %q", res.Vocab.Len(), len(res.Merges), dir)
	return nil
}
