// Package pretokenize splits raw corpus bytes into pretokens and counts them.
//
// A pretoken is either one match of the GPT-2 word-splitting pattern, represented downstream
// as one byte token per byte, or one occurrence of a special token, represented as a single
// indivisible token. Pretokens never cross a special-token boundary.
package pretokenize

import (
	"io"
	"iter"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Pattern is the GPT-2 word-splitting pattern: contractions, letters, digits, other symbols
// (each optionally preceded by one space), trailing whitespace and other whitespace runs.
const Pattern = `'(?:[sdmt]|ll|ve|re)| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// ErrInvalidUTF8 is returned when a byte range does not decode as UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8")

// Pretoken is the key of a frequency table.
//
// A non-special pretoken stands for the byte sequence of Text, one byte token per byte.
// A special pretoken is a single byte token holding the whole special string.
type Pretoken struct {
	Text    string
	Special bool
}

// Tokens returns the initial byte-token sequence of the pretoken.
func (p Pretoken) Tokens() []string {
	if p.Special {
		return []string{p.Text}
	}
	tokens := make([]string, len(p.Text))
	for i := range len(p.Text) {
		tokens[i] = p.Text[i : i+1]
	}
	return tokens
}

// Pretokenizer splits text into pretokens. It is immutable after creation and safe for
// concurrent use.
type Pretokenizer struct {
	words    *regexp2.Regexp
	specials *regexp2.Regexp // nil when there are no special tokens.
	form     *norm.Form
}

// Option configures a Pretokenizer.
type Option func(*Pretokenizer) error

// WithNormalization applies a Unicode normalization form ("NFC", "NFD", "NFKC" or "NFKD") to
// every non-special span before splitting. An empty name disables normalization.
func WithNormalization(name string) Option {
	return func(p *Pretokenizer) error {
		form, err := ParseNormalization(name)
		if err != nil {
			return err
		}
		p.form = form
		return nil
	}
}

// ParseNormalization maps a normalization name to its form. It returns nil for "".
func ParseNormalization(name string) (*norm.Form, error) {
	var form norm.Form
	switch strings.ToUpper(name) {
	case "":
		return nil, nil
	case "NFC":
		form = norm.NFC
	case "NFD":
		form = norm.NFD
	case "NFKC":
		form = norm.NFKC
	case "NFKD":
		form = norm.NFKD
	default:
		return nil, errors.Errorf("unknown normalization %q, valid values are NFC, NFD, NFKC and NFKD", name)
	}
	return &form, nil
}

// New creates a Pretokenizer for the given special tokens.
func New(specialTokens []string, options ...Option) (*Pretokenizer, error) {
	words, err := regexp2.Compile(Pattern, regexp2.None)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile pretokenizer pattern")
	}
	p := &Pretokenizer{words: words}
	if len(specialTokens) > 0 {
		// Longest first, so that a special token that is a prefix of another never wins.
		sorted := slices.Clone(specialTokens)
		slices.SortStableFunc(sorted, func(a, b string) int { return len(b) - len(a) })
		escaped := make([]string, len(sorted))
		for i, tok := range sorted {
			escaped[i] = regexp2.Escape(tok)
		}
		p.specials, err = regexp2.Compile(strings.Join(escaped, "|"), regexp2.None)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compile special tokens %q", specialTokens)
		}
	}
	for _, opt := range options {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// All yields the pretokens of text in order.
func (p *Pretokenizer) All(text string) iter.Seq[Pretoken] {
	return func(yield func(Pretoken) bool) {
		for span, special := range p.spans(text) {
			if special {
				if !yield(Pretoken{Text: span, Special: true}) {
					return
				}
				continue
			}
			if p.form != nil {
				span = p.form.String(span)
			}
			m, _ := p.words.FindStringMatch(span)
			for m != nil {
				if !yield(Pretoken{Text: m.String()}) {
					return
				}
				m, _ = p.words.FindNextMatch(m)
			}
		}
	}
}

// spans yields the text between special tokens (false) and the special tokens themselves (true).
// Empty spans are skipped.
func (p *Pretokenizer) spans(text string) iter.Seq2[string, bool] {
	return func(yield func(string, bool) bool) {
		if p.specials == nil {
			if text != "" {
				yield(text, false)
			}
			return
		}
		runes := []rune(text)
		var offset int
		m, _ := p.specials.FindRunesMatch(runes)
		for m != nil {
			if m.Index > offset {
				if !yield(string(runes[offset:m.Index]), false) {
					return
				}
			}
			if !yield(m.String(), true) {
				return
			}
			offset = m.Index + m.Length
			m, _ = p.specials.FindNextMatch(m)
		}
		if offset < len(runes) {
			yield(string(runes[offset:]), false)
		}
	}
}

// Count returns the pretoken-frequency table of data.
func (p *Pretokenizer) Count(data []byte) (Counts, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	counts := make(Counts)
	for pt := range p.All(string(data)) {
		counts[pt]++
	}
	return counts, nil
}

// CountRange reads the byte range [start, end) from r and returns its pretoken-frequency table.
// Errors carry the offsets of the offending range.
func (p *Pretokenizer) CountRange(r io.ReaderAt, start, end int64) (Counts, error) {
	if start < 0 || end < start {
		return nil, errors.Errorf("invalid byte range [%d, %d)", start, end)
	}
	buf := make([]byte, end-start)
	n, err := r.ReadAt(buf, start)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return nil, errors.Wrapf(err, "failed to read byte range [%d, %d)", start, end)
	}
	counts, err := p.Count(buf)
	if err != nil {
		return nil, errors.WithMessagef(err, "byte range [%d, %d)", start, end)
	}
	return counts, nil
}
