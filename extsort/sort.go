// Package extsort sorts a binary file of fixed-size records that is too
// large to fit in memory. The input is read in memory-sized chunks, each
// sorted in RAM and spilled as a numbered run; workers then repeatedly claim
// up to K runs through a file-system work queue and k-way merge them until a
// single run remains, which becomes the output file.
package extsort

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/extsortmt/extsortmt/internal/fileio"
	"github.com/extsortmt/extsortmt/record"
)

// Config carries the operator-supplied parameters of one sort.
type Config struct {
	// InputPath is the file to sort: a packed array of records in host
	// byte order whose size is a multiple of the record width.
	InputPath string

	// OutputPath receives the sorted result. Its directory is used as the
	// work folder for temporary run files.
	OutputPath string

	// AvailMem is the memory budget in bytes shared by all workers. Must
	// be at least three records.
	AvailMem int64

	// MergeAtOnce is the fan-in K: how many runs one merge iteration may
	// consume. Must be at least 2.
	MergeAtOnce int

	// Workers bounds concurrency for both stages. Zero selects
	// NumCPU()-1; values below one are coerced to one.
	Workers int

	// CompressRuns spills runs as lz4 frames. The input file and the
	// final output are always raw.
	CompressRuns bool

	// Logger receives structured progress events. Nil disables logging.
	Logger *zap.Logger
}

// Sort runs the full split/merge pipeline described by cfg over records
// encoded by codec. On success the output file exists and no temporary files
// remain; on failure temporary runs may be left behind in the work folder.
func Sort[T any](cfg Config, codec record.Codec[T]) error {
	size := codec.Size()

	switch {
	case cfg.InputPath == "" || cfg.OutputPath == "":
		return fmt.Errorf("%w: file paths must not be empty", ErrInvalidArgument)
	case cfg.MergeAtOnce < 2:
		return fmt.Errorf("%w: cannot merge fewer than two files at once, got %d", ErrInvalidArgument, cfg.MergeAtOnce)
	case cfg.AvailMem < int64(3*size):
		return fmt.Errorf("%w: %d bytes cannot hold two input buffers and an output buffer of %d-byte records",
			ErrInvalidArgument, cfg.AvailMem, size)
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &sorter[T]{
		cfg:     cfg,
		codec:   codec,
		size:    size,
		workers: workers,
		folder:  filepath.Dir(cfg.OutputPath),
		log:     log,
	}

	log.Info("external sort started",
		zap.String("input", cfg.InputPath),
		zap.String("output", cfg.OutputPath),
		zap.Int64("avail_mem", cfg.AvailMem),
		zap.Int("merge_at_once", cfg.MergeAtOnce),
		zap.Int("workers", workers),
		zap.Bool("compress_runs", cfg.CompressRuns))

	runs, err := s.split()
	if err != nil {
		return err
	}

	if runs == 0 {
		// Nothing was read: the result is an empty file.
		out, err := os.Create(cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.OutputPath, err)
		}
		return out.Close()
	}

	if runs > 1 {
		if err := s.merge(runs); err != nil {
			return err
		}
	}

	if err := s.finalize(); err != nil {
		return err
	}

	st := s.st.snapshot()
	log.Info("external sort finished",
		zap.Int64("records", st.RecordsRead),
		zap.Int64("runs", st.RunsCreated),
		zap.Int64("merge_iterations", st.MergeIterations),
		zap.Int64("bytes_written", st.BytesWritten))
	return nil
}

// sorter holds the state shared by the split and merge stages of one sort.
type sorter[T any] struct {
	cfg     Config
	codec   record.Codec[T]
	size    int
	workers int
	folder  string
	log     *zap.Logger
	st      stats
}

// finalize moves the single surviving run to the output path: a rename for
// raw runs, a decompressing copy for lz4 runs.
func (s *sorter[T]) finalize() error {
	last := runPath(s.folder, 1)

	if !s.cfg.CompressRuns {
		if err := os.Rename(last, s.cfg.OutputPath); err != nil {
			return fmt.Errorf("%w: rename final run: %w", ErrIO, err)
		}
		return nil
	}

	if err := fileio.CopyDecompressed(last, s.cfg.OutputPath); err != nil {
		return err
	}
	if err := os.Remove(last); err != nil {
		return fmt.Errorf("%w: remove final run: %w", ErrIO, err)
	}
	return nil
}

// runPath names claimable run n within the work folder.
func runPath(folder string, n int) string {
	return filepath.Join(folder, fmt.Sprintf("_temp_%d", n))
}
