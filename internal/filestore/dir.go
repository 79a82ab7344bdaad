package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a Backend rooted at a local directory. Relative names resolve
// against the root; absolute names are used as-is.
type Dir struct {
	root string
}

// NewDir returns a directory backend. An empty root means the working
// directory.
func NewDir(root string) *Dir {
	if root == "" {
		root = "."
	}
	return &Dir{root: root}
}

func (d *Dir) path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty file name")
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(d.root, name), nil
}

func (d *Dir) OpenRead(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (d *Dir) OpenWrite(_ context.Context, name string, appending bool) (io.WriteCloser, bool, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, false, err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	hasData := false
	if appending {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			hasData = true
		}
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return nil, false, err
	}
	return f, hasData, nil
}
