// Package corpus provides read-only access to training corpora and splits them into chunks that can be
// pretokenized independently.
package corpus

import (
	"bytes"
	"io"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// miniChunkSize is how many bytes FindBoundaries reads at a time while searching for a delimiter.
const miniChunkSize = 4096

// Corpus is a read-only memory-mapped view of a corpus file.
// Each worker should open its own view: views are cheap and share the page cache.
type Corpus struct {
	path   string
	reader *mmap.ReaderAt
}

// Open memory-maps the corpus at path.
func Open(path string) (*Corpus, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "corpus: mmap %s", path)
	}
	return &Corpus{path: path, reader: reader}, nil
}

// Path of the corpus file.
func (c *Corpus) Path() string { return c.path }

// Size in bytes of the corpus.
func (c *Corpus) Size() int64 { return int64(c.reader.Len()) }

// ReadAt implements io.ReaderAt.
func (c *Corpus) ReadAt(p []byte, off int64) (int, error) {
	return c.reader.ReadAt(p, off)
}

// Close unmaps the corpus.
func (c *Corpus) Close() error {
	return c.reader.Close()
}

// Boundaries opens path and returns the chunk boundaries for the desired number of chunks.
func Boundaries(path string, desired int, delimiter []byte) ([]int64, error) {
	c, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return FindBoundaries(c, c.Size(), desired, delimiter)
}

// FindBoundaries returns sorted, unique byte offsets spanning [0, size] that split r into at most
// desired chunks. Every inner boundary is placed at the start of an occurrence of delimiter, so no
// chunk splits a delimiter.
//
// Initial guesses are uniformly spaced; each is moved forward to the next delimiter, or to size if
// there is none. Chunks may therefore be fewer and unevenly sized.
func FindBoundaries(r io.ReaderAt, size int64, desired int, delimiter []byte) ([]int64, error) {
	if desired <= 0 {
		return nil, errors.Errorf("corpus: desired number of chunks must be positive, got %d", desired)
	}
	if len(delimiter) == 0 {
		return nil, errors.New("corpus: empty chunk delimiter")
	}
	if size < 0 {
		return nil, errors.Errorf("corpus: invalid size %d", size)
	}

	chunkSize := size / int64(desired)
	boundaries := make([]int64, desired+1)
	for i := range boundaries {
		boundaries[i] = int64(i) * chunkSize
	}
	boundaries[desired] = size

	// Consecutive reads overlap by len(delimiter)-1 bytes so a delimiter straddling two reads is found.
	overlap := int64(len(delimiter) - 1)
	buf := make([]byte, miniChunkSize+overlap)
	for i := 1; i < desired; i++ {
		pos := boundaries[i]
		for {
			if pos >= size {
				boundaries[i] = size
				break
			}
			n, err := r.ReadAt(buf, pos)
			if err != nil && err != io.EOF {
				return nil, errors.Wrapf(err, "corpus: reading at offset %d", pos)
			}
			if n == 0 {
				boundaries[i] = size
				break
			}
			if found := bytes.Index(buf[:n], delimiter); found >= 0 {
				boundaries[i] = pos + int64(found)
				break
			}
			if int64(n) <= overlap {
				boundaries[i] = size
				break
			}
			pos += int64(n) - overlap
		}
	}

	slices.Sort(boundaries)
	return slices.Compact(boundaries), nil
}
