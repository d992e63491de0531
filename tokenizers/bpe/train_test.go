package bpe

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-bpe/tokenizers/api"
	"github.com/gomlx/go-bpe/tokenizers/bpe/pretokenize"
)

const endOfText = "<|endoftext|>"

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// storiesCorpus generates documents separated by endOfText.
func storiesCorpus(numDocs int) string {
	rng := rand.New(rand.NewSource(7))
	subjects := []string{"The cat", "A little dog", "Lily", "Tom's friend", "The big red ball"}
	verbs := []string{"ran", "jumped", "played", "didn't want to go", "smiled"}
	places := []string{"in the park.", "at home!", "near the river", "with 3 friends.", "  all day\n"}
	var sb strings.Builder
	for i := range numDocs {
		for range 1 + rng.Intn(4) {
			fmt.Fprintf(&sb, "%s %s %s ", subjects[rng.Intn(len(subjects))], verbs[rng.Intn(len(verbs))],
				places[rng.Intn(len(places))])
		}
		if i < numDocs-1 {
			sb.WriteString(endOfText)
		}
	}
	return sb.String()
}

func TestTrainEndToEndExample(t *testing.T) {
	path := writeCorpus(t, "aa aa ab")
	res, err := Train(context.Background(), path, api.Options{VocabSize: 257})
	require.NoError(t, err)
	require.Equal(t, 257, res.Vocab.Len())
	assert.Equal(t, []byte("aa"), res.Vocab[256])
	assert.Equal(t, []api.Merge{{Left: []byte("a"), Right: []byte("a")}}, res.Merges)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Stats.Chunks)
	assert.Equal(t, 3, res.Stats.Pretokens)
	assert.Equal(t, int64(3), res.Stats.PretokenTotal)
	assert.Equal(t, 1, res.Stats.MergesPerformed)
	assert.False(t, res.Stats.TerminatedEarly)
}

func TestTrainDeterministicAcrossParallelism(t *testing.T) {
	path := writeCorpus(t, storiesCorpus(300))
	base := api.Options{VocabSize: 400, SpecialTokens: []string{endOfText}}
	want, err := Train(context.Background(), path, base)
	require.NoError(t, err)
	require.Equal(t, 400, want.Vocab.Len())

	for _, tc := range []struct{ parallelism, chunks int }{
		{2, 0}, {4, 0}, {4, 16}, {1, 7}, {8, 3},
	} {
		t.Run(fmt.Sprintf("parallelism=%d,chunks=%d", tc.parallelism, tc.chunks), func(t *testing.T) {
			opts := base
			opts.Parallelism, opts.Chunks = tc.parallelism, tc.chunks
			got, err := Train(context.Background(), path, opts)
			require.NoError(t, err)
			assert.Equal(t, want.Vocab, got.Vocab)
			assert.Equal(t, want.Merges, got.Merges)
			assert.Equal(t, want.Stats.PretokenTotal, got.Stats.PretokenTotal)
			assert.Greater(t, got.Stats.Chunks, 0)
		})
	}
}

func TestTrainDeterministicWithoutSpecialTokens(t *testing.T) {
	// The delimiter is not a special token here, so a chunk boundary before it would split "!<|" pretokens.
	path := writeCorpus(t, strings.Repeat("ab!!<|endoftext|>", 40)+storiesCorpus(100))
	want, err := Train(context.Background(), path, api.Options{VocabSize: 320})
	require.NoError(t, err)
	assert.Equal(t, 1, want.Stats.Chunks)

	for _, tc := range []struct{ parallelism, chunks int }{
		{4, 0}, {4, 16}, {8, 3},
	} {
		t.Run(fmt.Sprintf("parallelism=%d,chunks=%d", tc.parallelism, tc.chunks), func(t *testing.T) {
			got, err := Train(context.Background(), path,
				api.Options{VocabSize: 320, Parallelism: tc.parallelism, Chunks: tc.chunks})
			require.NoError(t, err)
			assert.Equal(t, 1, got.Stats.Chunks)
			assert.Equal(t, want.Vocab, got.Vocab)
			assert.Equal(t, want.Merges, got.Merges)
		})
	}
}

func TestTrainSpecialTokens(t *testing.T) {
	path := writeCorpus(t, storiesCorpus(50))
	res, err := Train(context.Background(), path, api.Options{VocabSize: 300, SpecialTokens: []string{endOfText}})
	require.NoError(t, err)
	assert.Equal(t, []byte(endOfText), res.Vocab[0])
	assert.Equal(t, []string{endOfText}, res.SpecialTokens)
	for i, tok := range res.Vocab {
		if i > 0 {
			assert.NotContains(t, string(tok), "<|", "token %d", i)
		}
	}
}

func TestTrainConfigErrorsBeforeReading(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.txt")
	for _, tc := range []struct {
		name string
		opts api.Options
		want error
	}{
		{"vocab too small", api.Options{VocabSize: 10}, api.ErrVocabTooSmall},
		{"duplicate special", api.Options{VocabSize: 1000, SpecialTokens: []string{"<s>", "<s>"}}, api.ErrDuplicateSpecialToken},
		{"empty special", api.Options{VocabSize: 1000, SpecialTokens: []string{""}}, api.ErrEmptySpecialToken},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Train(context.Background(), missing, tc.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := Train(context.Background(), missing, api.Options{VocabSize: 300, Normalization: "NFX"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist), "normalization is checked before opening the corpus")
}

func TestTrainIOErrors(t *testing.T) {
	_, err := Train(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), api.Options{VocabSize: 300})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	path := writeCorpus(t, "hello "+string([]byte{0xff, 0xfe})+" world")
	_, err = Train(context.Background(), path, api.Options{VocabSize: 300})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pretokenize.ErrInvalidUTF8), "got %v", err)
}

func TestTrainCancelled(t *testing.T) {
	path := writeCorpus(t, storiesCorpus(20))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, path, api.Options{VocabSize: 300, Parallelism: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTrainTerminatesEarly(t *testing.T) {
	for _, content := range []string{"", "a\nb\nc", endOfText + endOfText} {
		path := writeCorpus(t, content)
		res, err := Train(context.Background(), path, api.Options{VocabSize: 500, SpecialTokens: []string{endOfText}})
		require.NoError(t, err, "content %q", content)
		assert.Equal(t, 257, res.Vocab.Len())
		assert.Empty(t, res.Merges)
		assert.True(t, res.Stats.TerminatedEarly)
	}
}

func TestTrainCounts(t *testing.T) {
	counts := pretokenize.Counts{{Text: "ab"}: 3, {Text: "bc"}: 2}
	res, err := TrainCounts(counts, api.Options{VocabSize: 258})
	require.NoError(t, err)
	assert.Equal(t, []api.Merge{
		{Left: []byte("a"), Right: []byte("b")},
		{Left: []byte("b"), Right: []byte("c")},
	}, res.Merges)
	assert.Equal(t, int64(5), res.Stats.PretokenTotal)

	_, err = TrainCounts(counts, api.Options{VocabSize: 1})
	assert.True(t, errors.Is(err, api.ErrVocabTooSmall))
}

func TestPretokenizeChunks(t *testing.T) {
	content := "one two<|endoftext|>three<|endoftext|>four"
	path := writeCorpus(t, content)
	pre, err := pretokenize.New([]string{endOfText})
	require.NoError(t, err)

	whole, err := pre.Count([]byte(content))
	require.NoError(t, err)
	boundaries := []int64{0, 7, 25, int64(len(content))}
	tables, err := pretokenizeChunks(context.Background(), path, boundaries, pre, 2)
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, pretokenize.Counts{{Text: "one"}: 1, {Text: " two"}: 1}, tables[0])
	assert.Equal(t, whole, pretokenize.Join(tables...))

	tables, err = pretokenizeChunks(context.Background(), path, []int64{0}, pre, 2)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestReportSave(t *testing.T) {
	path := writeCorpus(t, "aa aa ab")
	opts := api.Options{VocabSize: 258, SpecialTokens: []string{endOfText}}
	res, err := Train(context.Background(), path, opts)
	require.NoError(t, err)

	reportPath := filepath.Join(t.TempDir(), "training.json")
	require.NoError(t, NewReport(path, opts, res).Save(context.Background(), reportPath))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, path, got.Input)
	assert.Equal(t, 258, got.VocabSize)
	assert.Equal(t, 258, got.TargetSize)
	assert.Equal(t, 1, got.Merges)
	assert.Equal(t, endOfText, got.Delimiter)
	assert.Equal(t, 1, got.Parallelism)
	assert.Equal(t, []string{endOfText}, got.SpecialTokens)
}
