// Package fileio implements typed sequential file access for fixed-width
// binary records: a chunk reader, a bundle of chunk readers for merging, and
// an append-only writer. Run files may optionally be lz4 frames; caller
// input files are always raw.
package fileio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/extsortmt/extsortmt/record"
)

// readBufSize is the size of the buffered reader placed over the file (or
// over the lz4 frame reader). Small record reads amortize into large reads.
const readBufSize = 64 * 1024

// ChunkReader reads a file as consecutive chunks of up to chunkLen records.
// No seeking is supported after open.
type ChunkReader[T any] struct {
	codec     record.Codec[T]
	path      string
	f         *os.File
	src       *bufio.Reader
	scratch   []byte // staging buffer, whole number of records
	chunkLen  int
	completed bool
}

// OpenChunkReader opens path for typed sequential reads of chunkLen records
// at a time. Raw files are size-checked at open: a size that is not a
// multiple of the record width fails with ErrCorruptSize. Compressed run
// files are lz4 frames; their decoded length is checked as it streams.
func OpenChunkReader[T any](codec record.Codec[T], path string, chunkLen int, compressed bool) (*ChunkReader[T], error) {
	if chunkLen < 1 {
		return nil, fmt.Errorf("chunk length must be positive, got %d", chunkLen)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	size := codec.Size()
	if !compressed {
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: stat %s: %w", ErrOpenFailed, path, err)
		}
		if stat.Size()%int64(size) != 0 {
			f.Close()
			return nil, fmt.Errorf("%w: %s holds %d bytes", ErrCorruptSize, path, stat.Size())
		}
	}

	var src *bufio.Reader
	if compressed {
		src = bufio.NewReaderSize(lz4.NewReader(f), readBufSize)
	} else {
		src = bufio.NewReaderSize(f, readBufSize)
	}

	scratchRecs := readBufSize / size
	if scratchRecs < 1 {
		scratchRecs = 1
	}
	if scratchRecs > chunkLen {
		scratchRecs = chunkLen
	}

	return &ChunkReader[T]{
		codec:    codec,
		path:     path,
		f:        f,
		src:      src,
		scratch:  make([]byte, scratchRecs*size),
		chunkLen: chunkLen,
	}, nil
}

// Next reads up to chunkLen records, appending them to dst[:0] so callers
// can recycle a buffer. A shorter (possibly empty) chunk is returned at end
// of file; once the end has been observed, Completed reports true and all
// further calls return an empty chunk.
func (r *ChunkReader[T]) Next(dst []T) ([]T, error) {
	dst = dst[:0]
	if r.completed {
		return dst, nil
	}

	size := r.codec.Size()
	want := r.chunkLen
	for want > 0 {
		n := min(want, len(r.scratch)/size)
		buf := r.scratch[:n*size]

		read, err := io.ReadFull(r.src, buf)
		switch err {
		case nil:
			dst = record.DecodeBatch(r.codec, buf, dst)
			want -= n
		case io.EOF:
			r.completed = true
			return dst, nil
		case io.ErrUnexpectedEOF:
			r.completed = true
			if read%size != 0 {
				return nil, fmt.Errorf("%w: %s ends mid-record", ErrCorruptSize, r.path)
			}
			return record.DecodeBatch(r.codec, buf[:read], dst), nil
		default:
			return nil, fmt.Errorf("%w: read %s: %w", ErrIO, r.path, err)
		}
	}
	return dst, nil
}

// Completed reports whether end of file has been observed.
func (r *ChunkReader[T]) Completed() bool { return r.completed }

// Close releases the underlying file handle.
func (r *ChunkReader[T]) Close() error {
	if r.f == nil {
		return nil
	}
	f := r.f
	r.f = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, r.path, err)
	}
	return nil
}
