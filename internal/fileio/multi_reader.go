package fileio

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/extsortmt/extsortmt/record"
)

// MultiReader bundles up to k chunk readers indexed 0..k-1 so a merge can
// pull from several sorted files at once. A reader object is reused across
// merge iterations: Open wires a fresh set of files, Close releases them.
type MultiReader[T any] struct {
	codec      record.Codec[T]
	readers    []*ChunkReader[T]
	chunkLen   int
	compressed bool
}

// NewMultiReader sizes the bundle for k simultaneous inputs read chunkLen
// records at a time.
func NewMultiReader[T any](codec record.Codec[T], k, chunkLen int, compressed bool) *MultiReader[T] {
	return &MultiReader[T]{
		codec:      codec,
		readers:    make([]*ChunkReader[T], k),
		chunkLen:   chunkLen,
		compressed: compressed,
	}
}

// Open opens the first n paths, one reader per slot. On failure every reader
// opened so far is closed again.
func (m *MultiReader[T]) Open(paths []string, n int) error {
	if n > len(m.readers) {
		return fmt.Errorf("cannot open %d files with %d readers", n, len(m.readers))
	}

	for i := 0; i < n; i++ {
		r, err := OpenChunkReader(m.codec, paths[i], m.chunkLen, m.compressed)
		if err != nil {
			m.Close()
			return err
		}
		m.readers[i] = r
	}
	return nil
}

// Next reads the next chunk from reader i, appending into dst[:0].
func (m *MultiReader[T]) Next(i int, dst []T) ([]T, error) {
	return m.readers[i].Next(dst)
}

// Completed reports whether reader i has observed end of file.
func (m *MultiReader[T]) Completed(i int) bool {
	return m.readers[i].Completed()
}

// Close closes every open reader, reporting all failures.
func (m *MultiReader[T]) Close() error {
	var merr *multierror.Error
	for i, r := range m.readers {
		if r == nil {
			continue
		}
		merr = multierror.Append(merr, r.Close())
		m.readers[i] = nil
	}
	return merr.ErrorOrNil()
}
