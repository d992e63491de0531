package bpe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/corpus"
	"github.com/gomlx/go-bpe/tokenizers/api"
	"github.com/gomlx/go-bpe/tokenizers/bpe/pretokenize"
)

// Train learns a byte-level BPE vocabulary and merge list from the corpus at inputPath.
//
// Configuration errors are returned before the corpus is read. Any I/O or decoding error in any chunk aborts
// the whole run. A corpus with too few mergeable pairs is not an error: the result simply has fewer tokens
// than requested, and Result.Stats.TerminatedEarly is set.
//
// The result does not depend on opts.Parallelism nor on opts.Chunks: when the delimiter is not a special token
// the corpus is read as a single chunk.
func Train(ctx context.Context, inputPath string, opts api.Options) (*api.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	requestedChunks := max(opts.Chunks, opts.Parallelism)
	opts = opts.WithDefaults()
	pre, err := pretokenize.New(opts.SpecialTokens, pretokenize.WithNormalization(opts.Normalization))
	if err != nil {
		return nil, err
	}
	if !opts.DelimiterIsSpecial() && requestedChunks > 1 {
		klog.Warningf("Chunk delimiter %q is not a special token: pretokenizing the corpus as a single chunk",
			opts.Delimiter)
	}

	start := time.Now()
	boundaries, err := corpus.Boundaries(inputPath, opts.Chunks, []byte(opts.Delimiter))
	if err != nil {
		return nil, err
	}
	tables, err := pretokenizeChunks(ctx, inputPath, boundaries, pre, opts.Parallelism)
	if err != nil {
		return nil, err
	}
	counts := pretokenize.Join(tables...)
	pretokenizeTime := time.Since(start)
	klog.V(1).Infof("Pretokenized %q in %d chunks: %d distinct pretokens, %d total (%s)",
		inputPath, len(tables), len(counts), counts.Total(), pretokenizeTime.Round(time.Millisecond))

	res := trainCounts(counts, opts)
	res.Stats.Chunks = len(tables)
	res.Stats.PretokenizeTime = pretokenizeTime
	return res, nil
}

// TrainCounts runs the merge loop on an already aggregated pretoken-frequency table.
func TrainCounts(counts pretokenize.Counts, opts api.Options) (*api.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return trainCounts(counts, opts.WithDefaults()), nil
}

func trainCounts(counts pretokenize.Counts, opts api.Options) *api.Result {
	start := time.Now()
	engine := NewEngine(counts, opts.SpecialTokens)
	engine.ProgressEvery = opts.ProgressEvery
	merges := engine.Run(opts.VocabSize)

	res := engine.Result()
	res.RunID = uuid.NewString()
	res.Stats = api.Stats{
		Pretokens:       len(counts),
		PretokenTotal:   counts.Total(),
		InitialPairs:    engine.initialPairs,
		MergesPerformed: merges,
		StalePops:       engine.stalePops,
		TerminatedEarly: res.Vocab.Len() < opts.VocabSize,
		MergeTime:       time.Since(start),
	}
	if res.Stats.TerminatedEarly {
		klog.Warningf("Corpus ran out of mergeable pairs: vocabulary has %d tokens, %d requested",
			res.Vocab.Len(), opts.VocabSize)
	}
	return res
}

// pretokenizeChunks counts each chunk [boundaries[i], boundaries[i+1]) of the corpus at path, running at most
// parallelism chunks at a time. Each task opens its own read-only view of the corpus and returns a private
// table. The first error cancels the submission of the remaining chunks and is returned.
func pretokenizeChunks(ctx context.Context, path string, boundaries []int64, pre *pretokenize.Pretokenizer,
	parallelism int) ([]pretokenize.Counts, error) {
	if len(boundaries) < 2 {
		return nil, nil
	}
	results := make([]pretokenize.Counts, len(boundaries)-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for i := range results {
		if gctx.Err() != nil {
			break
		}
		start, end := boundaries[i], boundaries[i+1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := corpus.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			counts, err := pre.CountRange(c, start, end)
			if err != nil {
				return errors.WithMessagef(err, "chunk %d of %q", i, path)
			}
			results[i] = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Chunks may have been skipped without any task failing if ctx was cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
