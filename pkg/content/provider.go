// Package content reads files of uploaded deployment archives.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// FileContentProcessor consumes the content of a stored file. The reader is
// only valid for the duration of the call.
type FileContentProcessor func(r io.ReaderAt, size int64) error

// Provider gives access to files uploaded to a space.
type Provider interface {
	ProcessFileContent(ctx context.Context, space, fileID string, process FileContentProcessor) error
}

// ErrFileNotFound is wrapped by providers when the file does not exist.
var ErrFileNotFound = errors.New("file not found")

// RetrievalError reports a failure to read stored content. Entry is set when
// the failure concerns one entry of an archive.
type RetrievalError struct {
	Space  string
	FileID string
	Entry  string
	Err    error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("error retrieving content of %q from file %q in space %q: %v", e.Entry, e.FileID, e.Space, e.Err)
	}
	return fmt.Sprintf("error retrieving file %q in space %q: %v", e.FileID, e.Space, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// retrievalError wraps err unless it already is a RetrievalError.
func retrievalError(space, fileID string, err error) error {
	var re *RetrievalError
	if errors.As(err, &re) {
		if re.Space == "" {
			re.Space, re.FileID = space, fileID
		}
		return re
	}
	return &RetrievalError{Space: space, FileID: fileID, Err: err}
}
