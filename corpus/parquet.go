package corpus

import (
	"context"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/internal/files"
)

// Document is the row schema expected from parquet datasets, as published on the HuggingFace Hub for
// text corpora (TinyStories, OpenWebText, ...).
type Document struct {
	Text string `parquet:"text"`
}

// ImportParquet reads the "text" column of the parquet file src and writes it to dst as a training corpus,
// documents separated by separator (usually the end-of-text special token). Empty documents are skipped.
//
// It returns the number of documents written.
func ImportParquet(ctx context.Context, src, dst, separator string) (int, error) {
	docs, err := parquet.ReadFile[Document](src)
	if err != nil {
		return 0, errors.Wrapf(err, "corpus: reading parquet file %q", src)
	}
	klog.V(1).Infof("Read %d rows from %q", len(docs), src)

	var written int
	err = files.WriteLocked(ctx, dst, func(w io.Writer) error {
		written, err = WriteDocuments(w, docs, separator)
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// WriteDocuments writes the non-empty documents to w, separated by separator.
func WriteDocuments(w io.Writer, docs []Document, separator string) (int, error) {
	var written int
	for _, doc := range docs {
		if doc.Text == "" {
			continue
		}
		if written > 0 {
			if _, err := io.WriteString(w, separator); err != nil {
				return written, errors.Wrap(err, "corpus: writing separator")
			}
		}
		if _, err := io.WriteString(w, doc.Text); err != nil {
			return written, errors.Wrap(err, "corpus: writing document")
		}
		written++
	}
	return written, nil
}
