package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirProvider serves files stored as <root>/<space>/<fileID>.
type DirProvider struct {
	root string
}

// NewDirProvider creates a provider rooted at root.
func NewDirProvider(root string) *DirProvider {
	return &DirProvider{root: root}
}

// ProcessFileContent implements Provider.
func (p *DirProvider) ProcessFileContent(ctx context.Context, space, fileID string, process FileContentProcessor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.path(space, fileID)
	if err != nil {
		return retrievalError(space, fileID, err)
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return retrievalError(space, fileID, ErrFileNotFound)
	}
	if err != nil {
		return retrievalError(space, fileID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return retrievalError(space, fileID, err)
	}
	if err := process(f, info.Size()); err != nil {
		return retrievalError(space, fileID, err)
	}
	return nil
}

// path rejects identifiers that would escape the root.
func (p *DirProvider) path(space, fileID string) (string, error) {
	for _, part := range []string{space, fileID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid path component %q", part)
		}
	}
	return filepath.Join(p.root, space, fileID), nil
}
