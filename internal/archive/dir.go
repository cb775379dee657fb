package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir archives pages as files in a local directory.
type Dir struct {
	path string
}

// NewDir returns a Dir archiver for an existing directory.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("dir archive requires a directory")
	}
	s, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("archive directory %q error: %w", path, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("archive path %q is not a directory", path)
	}
	return &Dir{path: path}, nil
}

// Archive writes body to a new file named name.
func (d *Dir) Archive(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid archive name %q", name)
	}

	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", name, ErrExists)
		}
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not write %s: %w", name, err)
	}
	return f.Close()
}

// Close implements Archiver.
func (d *Dir) Close() error { return nil }
