package content

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxEntrySize bounds entries read from archives.
const DefaultMaxEntrySize int64 = 1 << 20

// ReadJSONEntry decodes the JSON object stored under name in a zip archive.
// Entries larger than maxSize are rejected; a non-positive maxSize uses
// DefaultMaxEntrySize.
func ReadJSONEntry(archive io.ReaderAt, size int64, name string, maxSize int64) (map[string]any, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntrySize
	}
	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return nil, &RetrievalError{Entry: name, Err: fmt.Errorf("failed to open archive: %w", err)}
	}

	f, err := zr.Open(name)
	if err != nil {
		return nil, &RetrievalError{Entry: name, Err: err}
	}
	defer f.Close()

	// The declared size may lie, so the read itself is bounded too.
	if info, err := f.Stat(); err == nil && info.Size() > maxSize {
		return nil, &RetrievalError{Entry: name, Err: fmt.Errorf("entry size %d exceeds limit %d", info.Size(), maxSize)}
	}
	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, &RetrievalError{Entry: name, Err: err}
	}
	if int64(len(data)) > maxSize {
		return nil, &RetrievalError{Entry: name, Err: fmt.Errorf("entry exceeds limit %d", maxSize)}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RetrievalError{Entry: name, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	return out, nil
}
