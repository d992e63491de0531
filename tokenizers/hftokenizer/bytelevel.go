package hftokenizer

import (
	"strings"

	"github.com/pkg/errors"
)

var byteToUnicode [256]rune
var unicodeToByte map[rune]byte

func init() {
	unicodeToByte = make(map[rune]byte, 256)

	// Build the byte-to-unicode mapping used by GPT-2: printable bytes map to themselves, the others
	// to the code points starting at 256, in byte order.
	n := 0
	for b := 0; b < 256; b++ {
		if (b >= '!' && b <= '~') || (b >= '\xa1' && b <= '\xac') || (b >= '\xae' && b <= '\xff') {
			byteToUnicode[b] = rune(b)
		} else {
			byteToUnicode[b] = rune(256 + n)
			n++
		}
		unicodeToByte[byteToUnicode[b]] = byte(b)
	}
}

// EncodeBytes returns the GPT-2 byte-level representation of token: one printable rune per byte.
// A space becomes "Ġ" and a newline "Ċ".
func EncodeBytes(token []byte) string {
	var sb strings.Builder
	sb.Grow(2 * len(token))
	for _, b := range token {
		sb.WriteRune(byteToUnicode[b])
	}
	return sb.String()
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(symbols string) ([]byte, error) {
	token := make([]byte, 0, len(symbols))
	for _, r := range symbols {
		b, found := unicodeToByte[r]
		if !found {
			return nil, errors.Errorf("%q is not a byte-level symbol (in %q)", r, symbols)
		}
		token = append(token, b)
	}
	return token, nil
}
