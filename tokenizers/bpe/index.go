package bpe

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/gomlx/go-bpe/tokenizers/bpe/pretokenize"
)

// word is one distinct pretoken of the corpus, as its current token sequence, and its frequency.
// A word folded into another one has freq == 0.
type word struct {
	tokens []string
	freq   int64
}

// buildWords converts a pretoken-frequency table into words, in a deterministic order.
func buildWords(counts pretokenize.Counts) []word {
	keys := make([]pretokenize.Pretoken, 0, len(counts))
	for pt, n := range counts {
		if n > 0 {
			keys = append(keys, pt)
		}
	}
	slices.SortFunc(keys, func(a, b pretokenize.Pretoken) int {
		if a.Special != b.Special {
			if a.Special {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.Text, b.Text)
	})
	words := make([]word, len(keys))
	for i, pt := range keys {
		words[i] = word{tokens: pt.Tokens(), freq: counts[pt]}
	}
	return words
}

// sequenceKey encodes a token sequence so that two sequences have the same key iff they are equal.
func sequenceKey(tokens []string) string {
	size := 0
	for _, tok := range tokens {
		size += len(tok) + binary.MaxVarintLen32
	}
	buf := make([]byte, 0, size)
	for _, tok := range tokens {
		buf = binary.AppendUvarint(buf, uint64(len(tok)))
		buf = append(buf, tok...)
	}
	return string(buf)
}

// pairIndex holds the pair-frequency table and, for each pair, the words that may contain it.
//
// counts is exact: it always equals a rescan of the live words. where is a superset: a word listed
// for a pair may no longer contain it after a merge, and readers must check.
type pairIndex struct {
	counts map[pair]int64
	where  map[pair]map[int]struct{}
}

// newPairIndex counts every adjacent pair of every word, weighted by the word frequency.
func newPairIndex(words []word) *pairIndex {
	idx := &pairIndex{
		counts: make(map[pair]int64),
		where:  make(map[pair]map[int]struct{}),
	}
	for i, w := range words {
		if w.freq == 0 {
			continue
		}
		for j := 0; j+1 < len(w.tokens); j++ {
			p := pair{w.tokens[j], w.tokens[j+1]}
			idx.counts[p] += w.freq
			idx.addWord(p, i)
		}
	}
	return idx
}

func (idx *pairIndex) addWord(p pair, wordIdx int) {
	set, found := idx.where[p]
	if !found {
		set = make(map[int]struct{})
		idx.where[p] = set
	}
	set[wordIdx] = struct{}{}
}

// takeWords removes p from the word index and returns the words that may contain it, sorted.
func (idx *pairIndex) takeWords(p pair) []int {
	set := idx.where[p]
	delete(idx.where, p)
	words := make([]int, 0, len(set))
	for i := range set {
		words = append(words, i)
	}
	slices.Sort(words)
	return words
}

// mergeWord replaces, scanning left to right, every non-overlapping occurrence of p in tokens by merged.
// For each occurrence it reports through update the pair-count changes weighted by freq: the merged pair
// and the pairs it formed with its old neighbors are decremented, the pairs the merged token forms with
// its new neighbors are incremented.
//
// It returns the new sequence and the number of occurrences merged.
func mergeWord(tokens []string, p pair, merged string, freq int64, update func(pair, int64)) ([]string, int) {
	out := make([]string, 0, len(tokens))
	var n int
	for i := 0; i < len(tokens); {
		if i+1 < len(tokens) && tokens[i] == p.left && tokens[i+1] == p.right {
			if len(out) > 0 {
				// The previous token may itself be the result of this merge.
				prev := out[len(out)-1]
				update(pair{prev, p.left}, -freq)
				update(pair{prev, merged}, freq)
			}
			update(p, -freq)
			if i+2 < len(tokens) {
				next := tokens[i+2]
				update(pair{p.right, next}, -freq)
				update(pair{merged, next}, freq)
			}
			out = append(out, merged)
			n++
			i += 2
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out, n
}
