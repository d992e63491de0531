package bpe

import (
	"slices"

	"github.com/gomlx/go-bpe/tokenizers/api"
)

// vocabBuilder owns id assignment and the ordered merge record. Both only grow.
type vocabBuilder struct {
	tokens [][]byte
	merges []api.Merge
}

// newVocabBuilder seeds the vocabulary with the special tokens, then the 256 single bytes.
func newVocabBuilder(specialTokens []string) *vocabBuilder {
	v := &vocabBuilder{tokens: make([][]byte, 0, len(specialTokens)+api.NumByteTokens)}
	for _, tok := range specialTokens {
		v.add([]byte(tok))
	}
	for b := range api.NumByteTokens {
		v.add([]byte{byte(b)})
	}
	return v
}

// add assigns the next id to token.
func (v *vocabBuilder) add(token []byte) int {
	v.tokens = append(v.tokens, token)
	return len(v.tokens) - 1
}

// recordMerge appends the merge and assigns an id to the merged token.
func (v *vocabBuilder) recordMerge(left, right string) int {
	v.merges = append(v.merges, api.Merge{Left: []byte(left), Right: []byte(right)})
	return v.add([]byte(left + right))
}

func (v *vocabBuilder) len() int { return len(v.tokens) }

func (v *vocabBuilder) vocabulary() api.Vocabulary {
	return slices.Clone(v.tokens)
}

func (v *vocabBuilder) mergeList() []api.Merge {
	return slices.Clone(v.merges)
}
