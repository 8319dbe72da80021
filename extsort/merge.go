package extsort

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/extsortmt/extsortmt/internal/fileio"
	"github.com/extsortmt/extsortmt/internal/pool"
)

// mergeQueue is the shared state of the file-system work queue. filesNum
// names the highest claimable run index; it and all renames of run files are
// guarded by mu. A run is either claimable under its `_temp_<N>` name or
// exclusively owned by one worker under that worker's stash names, never
// both.
type mergeQueue struct {
	mu       sync.Mutex
	filesNum int
}

// merge runs the merge stage: W workers repeatedly claim up to K runs,
// k-way merge them into a new run and publish it back, until one run
// remains. Worker failures are aggregated; the stage aborts without cleanup
// of claimable runs.
func (s *sorter[T]) merge(runs int) error {
	k := s.cfg.MergeAtOnce

	bufBytes := s.cfg.AvailMem / int64(k*s.workers)
	bufBytes -= bufBytes % int64(s.size)
	if bufBytes < int64(s.size) {
		return fmt.Errorf("%w: %d bytes cannot give %d workers %d input buffers of %d-byte records each",
			ErrInsufficientMemory, s.cfg.AvailMem, s.workers, k, s.size)
	}
	bufLen := int(bufBytes) / s.size

	q := &mergeQueue{filesNum: runs}

	p := pool.New(s.workers, s.log)
	tasks := make([]*pool.Task, 0, s.workers)
	for id := 0; id < s.workers; id++ {
		tasks = append(tasks, p.Submit(func() error {
			return s.mergeWorker(id, q, bufLen)
		}))
	}

	var merr *multierror.Error
	for _, t := range tasks {
		merr = multierror.Append(merr, t.Wait())
	}
	p.Close()

	return merr.ErrorOrNil()
}

// mergeWorker is one worker's claim/merge/publish loop. The worker's pool
// slot id derives its private stash names, which must be unique across live
// workers; claimed runs are invisible to other workers while stashed.
func (s *sorter[T]) mergeWorker(id int, q *mergeQueue, bufLen int) error {
	k := s.cfg.MergeAtOnce

	stash := make([]string, k)
	for j := range stash {
		stash[j] = filepath.Join(s.folder, fmt.Sprintf("%d_thread_temp_%d", id, j))
	}
	outStash := filepath.Join(s.folder, fmt.Sprintf("temp_out_%d", id))

	parts := make([]mergePart[T], k)
	for j := range parts {
		parts[j].slot = j
	}
	out := make([]T, 0, bufLen)
	reader := fileio.NewMultiReader(s.codec, k, bufLen, s.cfg.CompressRuns)
	h := &partHeap[T]{cmp: s.codec.Compare, parts: parts}

	for {
		m, err := s.claim(q, stash)
		if err != nil {
			return err
		}
		if m == 0 {
			s.log.Debug("merge worker exiting", zap.Int("worker", id))
			return nil
		}

		s.log.Debug("runs claimed", zap.Int("worker", id), zap.Int("count", m))

		if err := s.mergeRuns(reader, parts[:m], h, &out, stash[:m], outStash); err != nil {
			removeQuiet(append(stash[:m:m], outStash))
			return err
		}

		done, err := s.publish(q, stash[:m], outStash)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// claim removes up to K runs from the queue and renames them to the
// worker's stash names, all under the queue mutex. A worker does not claim
// unless at least two runs are claimable, so a merge always consumes two or
// more runs and the single surviving run can never be re-merged into
// itself.
func (s *sorter[T]) claim(q *mergeQueue, stash []string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.filesNum < 2 {
		return 0, nil
	}

	m := min(q.filesNum, s.cfg.MergeAtOnce)
	q.filesNum -= m
	first := q.filesNum + 1

	for j := 0; j < m; j++ {
		if err := os.Rename(runPath(s.folder, first+j), stash[j]); err != nil {
			return 0, fmt.Errorf("%w: claim run %d: %w", ErrIO, first+j, err)
		}
	}
	return m, nil
}

// mergeRuns performs one lock-free k-way merge of the stashed inputs into
// outPath. Parts are primed from their reader slots and refilled as they
// drain; the smallest front record among non-finished parts is appended to
// the output buffer, which is flushed whenever full and once at the end.
func (s *sorter[T]) mergeRuns(reader *fileio.MultiReader[T], parts []mergePart[T],
	h *partHeap[T], out *[]T, inputs []string, outPath string) (err error) {

	w, werr := fileio.CreateWriter(s.codec, outPath, s.cfg.CompressRuns, 0)
	if werr != nil {
		return werr
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if cerr := reader.Close(); err == nil {
			err = cerr
		}
	}()

	if oerr := reader.Open(inputs, len(inputs)); oerr != nil {
		return oerr
	}

	h.reset()
	for j := range parts {
		ok, rerr := s.refill(reader, &parts[j])
		if rerr != nil {
			return rerr
		}
		if ok {
			h.push(parts[j].fileIndex())
		}
	}

	for h.len() > 0 {
		slot := h.pop()
		rec, _ := parts[slot].take()

		*out = append(*out, rec)
		if len(*out) == cap(*out) {
			if werr := s.flush(w, out); werr != nil {
				return werr
			}
		}

		if parts[slot].finished() {
			ok, rerr := s.refill(reader, &parts[slot])
			if rerr != nil {
				return rerr
			}
			if !ok {
				continue
			}
		}
		h.push(slot)
	}

	if len(*out) > 0 {
		if werr := s.flush(w, out); werr != nil {
			return werr
		}
	}
	return nil
}

// refill clears a drained part and installs the next chunk from its reader
// slot. ok is false once the slot is exhausted.
func (s *sorter[T]) refill(reader *fileio.MultiReader[T], p *mergePart[T]) (bool, error) {
	for p.finished() {
		if reader.Completed(p.fileIndex()) {
			return false, nil
		}
		data, err := reader.Next(p.fileIndex(), p.buffer())
		if err != nil {
			return false, err
		}
		p.updateData(data)
	}
	return true, nil
}

// flush writes the output buffer and resets it.
func (s *sorter[T]) flush(w *fileio.Writer[T], out *[]T) error {
	if err := w.Write(*out); err != nil {
		return err
	}
	s.st.addMerged(len(*out))
	s.st.addWritten(int64(len(*out) * s.size))
	*out = (*out)[:0]
	return nil
}

// publish deletes the consumed stash files and renames the worker's output
// stash to the next run index, returning the merged result to the queue.
// done is true when that result is the only run left, which ends the stage.
func (s *sorter[T]) publish(q *mergeQueue, stash []string, outStash string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range stash {
		if err := os.Remove(p); err != nil {
			return false, fmt.Errorf("%w: remove claimed run: %w", ErrIO, err)
		}
	}

	q.filesNum++
	if err := os.Rename(outStash, runPath(s.folder, q.filesNum)); err != nil {
		return false, fmt.Errorf("%w: publish merged run: %w", ErrIO, err)
	}

	s.st.addMerge()
	s.log.Debug("run published", zap.Int("files_num", q.filesNum))
	return q.filesNum == 1, nil
}

func removeQuiet(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// partHeap is a min-heap of part slots ordered by each part's front record,
// ties broken by slot order. container/heap boxes through interface{}; a
// manual heap keeps the merge's hottest loop allocation-free. Only slots
// whose part currently has an available record may be in the heap.
type partHeap[T any] struct {
	cmp   func(a, b T) int
	parts []mergePart[T]
	idx   []int
}

func (h *partHeap[T]) len() int { return len(h.idx) }

func (h *partHeap[T]) reset() { h.idx = h.idx[:0] }

func (h *partHeap[T]) less(i, j int) bool {
	a, b := h.idx[i], h.idx[j]
	ra, _ := h.parts[a].peek()
	rb, _ := h.parts[b].peek()
	if c := h.cmp(ra, rb); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *partHeap[T]) swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *partHeap[T]) push(slot int) {
	h.idx = append(h.idx, slot)
	h.up(len(h.idx) - 1)
}

func (h *partHeap[T]) pop() int {
	n := len(h.idx)
	top := h.idx[0]
	h.idx[0] = h.idx[n-1]
	h.idx = h.idx[:n-1]
	if len(h.idx) > 0 {
		h.down(0)
	}
	return top
}

func (h *partHeap[T]) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !h.less(j, i) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *partHeap[T]) down(i int) {
	n := len(h.idx)
	for {
		j := 2*i + 1 // left child
		if j >= n {
			break
		}
		if r := j + 1; r < n && h.less(r, j) {
			j = r
		}
		if !h.less(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
}
