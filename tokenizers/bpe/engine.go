// Package bpe trains byte-level Byte-Pair-Encoding vocabularies.
//
// Training has two phases. First the corpus is split into chunks aligned on a delimiter and each chunk is
// pretokenized concurrently into a pretoken-frequency table (see package pretokenize); the tables are summed.
// Then the Engine greedily merges the most frequent adjacent pair of byte tokens until the vocabulary reaches
// the requested size or no pair is left. The merge loop is sequential: every iteration depends on the exact
// state left by the previous one.
//
// The Engine keeps the pair frequencies up to date incrementally, touching only the words that contain the
// merged pair, and selects pairs from a max-heap whose stale entries are discarded when popped.
package bpe

import (
	"time"

	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/tokenizers/api"
	"github.com/gomlx/go-bpe/tokenizers/bpe/pretokenize"
)

// Engine runs the merge loop. It owns all its state; it is not safe for concurrent use.
type Engine struct {
	// ProgressEvery logs progress every that many merges. 0 disables it.
	ProgressEvery int

	words []word
	keys  map[string]int // sequenceKey of a live word -> index in words.
	index *pairIndex
	queue *mergeQueue
	vocab *vocabBuilder

	specialTokens []string
	initialPairs  int
	stalePops     int
}

// NewEngine builds the pair-frequency index of counts and seeds the queue with one entry per distinct pair.
// Special tokens become the first vocabulary ids, followed by the 256 single bytes.
func NewEngine(counts pretokenize.Counts, specialTokens []string) *Engine {
	e := &Engine{
		words:         buildWords(counts),
		queue:         newMergeQueue(),
		vocab:         newVocabBuilder(specialTokens),
		specialTokens: specialTokens,
	}
	e.keys = make(map[string]int, len(e.words))
	for i, w := range e.words {
		e.keys[sequenceKey(w.tokens)] = i
	}
	e.index = newPairIndex(e.words)
	for p, freq := range e.index.counts {
		e.queue.push(freq, p)
	}
	e.initialPairs = len(e.index.counts)
	return e
}

// VocabSize is the current size of the vocabulary.
func (e *Engine) VocabSize() int { return e.vocab.len() }

// Step performs one merge: it selects the best pair, records it, rewrites the words containing it and
// updates the pair frequencies. It returns false, without changing anything, when no pair is left.
func (e *Engine) Step() (api.Merge, bool) {
	p, ok := e.selectPair()
	if !ok {
		return api.Merge{}, false
	}
	merged := p.left + p.right
	e.vocab.recordMerge(p.left, p.right)
	e.rewrite(p, merged)
	return api.Merge{Left: []byte(p.left), Right: []byte(p.right)}, true
}

// Run merges until the vocabulary has targetVocabSize tokens or no pair is left.
// It returns the number of merges performed.
func (e *Engine) Run(targetVocabSize int) int {
	var merges int
	start := time.Now()
	for e.vocab.len() < targetVocabSize {
		m, ok := e.Step()
		if !ok {
			klog.V(1).Infof("No mergeable pairs left after %d merges, vocabulary has %d of %d tokens",
				merges, e.vocab.len(), targetVocabSize)
			break
		}
		merges++
		if e.ProgressEvery > 0 && merges%e.ProgressEvery == 0 {
			klog.Infof("Merge %d: %q + %q (vocab %d/%d, %d pairs, %d queued, %s elapsed)",
				merges, m.Left, m.Right, e.vocab.len(), targetVocabSize,
				len(e.index.counts), e.queue.len(), time.Since(start).Round(time.Millisecond))
		}
	}
	return merges
}

// Result returns a copy of the vocabulary and merge list built so far.
func (e *Engine) Result() *api.Result {
	return &api.Result{
		Vocab:         e.vocab.vocabulary(),
		Merges:        e.vocab.mergeList(),
		SpecialTokens: append([]string(nil), e.specialTokens...),
	}
}

// selectPair pops entries until one matches the current frequency of its pair.
func (e *Engine) selectPair() (pair, bool) {
	if len(e.index.counts) == 0 {
		return pair{}, false
	}
	for {
		entry, ok := e.queue.pop()
		if !ok {
			return pair{}, false
		}
		if freq, found := e.index.counts[entry.pair]; found && freq == entry.freq {
			return entry.pair, true
		}
		// Stale: a fresher entry for this pair was pushed when its count changed.
		e.stalePops++
	}
}

// rewrite merges p in every word containing it, folds words that become identical, updates the pair
// counts, and pushes the new frequency of every pair it touched.
func (e *Engine) rewrite(p pair, merged string) {
	touched := make(map[pair]struct{})
	for _, i := range e.index.takeWords(p) {
		w := &e.words[i]
		if w.freq == 0 {
			continue
		}
		tokens, n := mergeWord(w.tokens, p, merged, w.freq, func(q pair, delta int64) {
			e.index.counts[q] += delta
			touched[q] = struct{}{}
			if delta > 0 {
				e.index.addWord(q, i)
			}
		})
		if n == 0 {
			continue
		}

		oldKey, newKey := sequenceKey(w.tokens), sequenceKey(tokens)
		if e.keys[oldKey] == i {
			delete(e.keys, oldKey)
		}
		if j, found := e.keys[newKey]; found && j != i {
			e.words[j].freq += w.freq
			w.freq = 0
			w.tokens = nil
			continue
		}
		e.keys[newKey] = i
		w.tokens = tokens
	}

	for q := range touched {
		if freq := e.index.counts[q]; freq > 0 {
			e.queue.push(freq, q)
		} else {
			delete(e.index.counts, q)
		}
	}
}
