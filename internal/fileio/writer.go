package fileio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/extsortmt/extsortmt/record"
)

// writeBufSize is four times the read side's buffer; encoded batches are
// staged here before reaching the file or the lz4 frame writer.
const writeBufSize = 256 * 1024

// Writer appends typed records to one output file. Writes are append-only
// within one open session; the file is complete once Close returns.
type Writer[T any] struct {
	codec   record.Codec[T]
	path    string
	f       *os.File
	lz      *lz4.Writer
	out     *bufio.Writer
	scratch []byte
}

// CreateWriter creates (truncating) path for typed writes. When compress is
// set the file is written as one lz4 frame. sizeHint, when positive, is the
// expected raw byte size and is used to preallocate disk space on platforms
// that support it; it is ignored for compressed files.
func CreateWriter[T any](codec record.Codec[T], path string, compress bool, sizeHint int64) (*Writer[T], error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	if sizeHint > 0 && !compress {
		preallocate(f, sizeHint)
	}

	w := &Writer[T]{codec: codec, path: path, f: f}
	if compress {
		w.lz = lz4.NewWriter(f)
		w.out = bufio.NewWriterSize(w.lz, writeBufSize)
	} else {
		w.out = bufio.NewWriterSize(f, writeBufSize)
	}
	return w, nil
}

// Write appends recs, encoding in staged batches so one call never needs a
// buffer larger than the staging area.
func (w *Writer[T]) Write(recs []T) error {
	batch := max(writeBufSize/w.codec.Size(), 1)
	for len(recs) > 0 {
		n := min(len(recs), batch)
		w.scratch = record.EncodeBatch(w.codec, recs[:n], w.scratch)
		if _, err := w.out.Write(w.scratch); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrIO, w.path, err)
		}
		recs = recs[n:]
	}
	return nil
}

// Close flushes buffered data, finishes the lz4 frame when compressing, and
// releases the file handle.
func (w *Writer[T]) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil

	err := w.out.Flush()
	if err == nil && w.lz != nil {
		err = w.lz.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, w.path, err)
	}
	return nil
}

// CopyDecompressed streams an lz4-framed run into a raw file at dst.
func CopyDecompressed(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, dst, err)
	}

	_, err = io.Copy(out, lz4.NewReader(in))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: decompress %s: %w", ErrIO, src, err)
	}
	return nil
}
