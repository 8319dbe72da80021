package extsort

import (
	"errors"

	"github.com/extsortmt/extsortmt/internal/fileio"
)

// Error kinds surfaced by Sort. Match with errors.Is; wrapped errors carry
// the kind plus the failing path or parameter in their chain.
var (
	// ErrInvalidArgument covers empty paths, a fan-in below two, and a
	// memory budget below three records. Raised before any I/O.
	ErrInvalidArgument = errors.New("external sort: invalid argument")

	// ErrInsufficientMemory means the budget derives a chunk or merge
	// buffer smaller than one record. Raised before the stage starts.
	ErrInsufficientMemory = errors.New("external sort: insufficient memory")

	// ErrCorruptSize means the input (or a run) cannot hold a whole
	// number of records.
	ErrCorruptSize = fileio.ErrCorruptSize

	// ErrOpenFailed means a file could not be opened or created.
	ErrOpenFailed = fileio.ErrOpenFailed

	// ErrIO means a read, write, rename or remove failed mid-operation.
	ErrIO = fileio.ErrIO
)
