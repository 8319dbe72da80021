package extsort

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/extsortmt/extsortmt/internal/fileio"
	"github.com/extsortmt/extsortmt/internal/pool"
)

// split reads the input in memory-sized chunks, sorts each chunk in RAM on a
// pool worker and spills it as a numbered run. It returns the number of runs
// created. The pool's admission primitive provides backpressure: a new chunk
// is read only once a worker can take it, so at most one unprocessed chunk
// per worker is ever buffered.
func (s *sorter[T]) split() (int, error) {
	chunkLen := int(s.cfg.AvailMem / int64(s.workers*s.size))
	if chunkLen == 0 {
		return 0, fmt.Errorf("%w: %d bytes across %d workers cannot hold one %d-byte record",
			ErrInsufficientMemory, s.cfg.AvailMem, s.workers, s.size)
	}

	reader, err := fileio.OpenChunkReader(s.codec, s.cfg.InputPath, chunkLen, false)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	p := pool.New(s.workers, s.log)
	defer p.Close()

	var pending []*pool.Task
	total := 0

	for !reader.Completed() {
		p.WaitFirstVacant()

		pending, err = reapTasks(pending, false)
		if err != nil {
			return 0, err
		}

		chunk, err := reader.Next(nil)
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			break
		}

		total++
		path := runPath(s.folder, total)
		pending = append(pending, p.Submit(func() error {
			return s.sortAndSpill(chunk, path)
		}))
	}

	if _, err := reapTasks(pending, true); err != nil {
		return 0, err
	}

	s.log.Debug("split stage finished", zap.Int("runs", total))
	return total, nil
}

// sortAndSpill orders one chunk in memory and writes it out as a run.
func (s *sorter[T]) sortAndSpill(recs []T, path string) error {
	slices.SortFunc(recs, s.codec.Compare)

	w, err := fileio.CreateWriter(s.codec, path, s.cfg.CompressRuns, int64(len(recs)*s.size))
	if err != nil {
		return err
	}
	if err := w.Write(recs); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	s.st.addRead(len(recs))
	s.st.addRun()
	s.st.addWritten(int64(len(recs) * s.size))
	s.log.Debug("run spilled", zap.String("path", path), zap.Int("records", len(recs)))
	return nil
}

// reapTasks drops completed tasks from the slice, surfacing the first
// captured failure. With wait set it blocks until every task has run.
func reapTasks(tasks []*pool.Task, wait bool) ([]*pool.Task, error) {
	var first error
	kept := tasks[:0]
	for _, t := range tasks {
		switch {
		case wait:
			if err := t.Wait(); err != nil && first == nil {
				first = err
			}
		case t.Done():
			if err := t.Err(); err != nil && first == nil {
				first = err
			}
		default:
			kept = append(kept, t)
		}
	}
	return kept, first
}
