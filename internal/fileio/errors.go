package fileio

import "errors"

// Error kinds raised by the file layer. Callers match them with errors.Is;
// every wrapped error keeps the kind in its chain.
var (
	// ErrOpenFailed means a file could not be opened or created.
	ErrOpenFailed = errors.New("file cannot be opened")

	// ErrCorruptSize means a file's byte size is not a multiple of the
	// record width, so it cannot hold a whole number of records.
	ErrCorruptSize = errors.New("file size is not a multiple of the record width")

	// ErrIO means a read, write, rename or remove failed mid-operation.
	ErrIO = errors.New("i/o failure")
)
