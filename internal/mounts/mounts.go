// Package mounts provides file mounts usable as fs.FS filesystems. A mount is served
// either from an embedded filesystem or, when a directory is given, from disk, so that
// operators can run the syncer against edited copies of its sql files. Both kinds of
// mount present their files at the top level.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileMount is a named filesystem backed by an embedded fs.FS or a directory.
type FileMount struct {
	MountName string
	FromDisk  bool
	fs.FS
}

// String lists the files in the mount.
func (fm FileMount) String() string {
	files, _ := Files(fm.FS)
	source := "embedded"
	if fm.FromDisk {
		source = "disk"
	}
	return fmt.Sprintf("mount %q (%s): %s", fm.MountName, source, strings.Join(files, ", "))
}

// ErrInvalidPath reports an invalid mount name.
type ErrInvalidPath struct {
	mountName string
}

// Error fulfills the Error interface requirement for ErrInvalidPath.
func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.mountName)
}

// NewFileMount mounts embeddedFS at the subdirectory mountName or, if dirPath is not
// empty, the directory at dirPath. Given
//
//	//go:embed sql
//	var SQLEmbeddedFS embed.FS
//
// the call NewFileMount("sql", SQLEmbeddedFS, "") gives a filesystem with schema.sql
// at its root, as does NewFileMount("sql", SQLEmbeddedFS, "/etc/syncer/sql") for a
// directory holding the same files.
func NewFileMount(mountName string, embeddedFS fs.FS, dirPath string) (*FileMount, error) {

	if mountName == "" {
		return nil, errors.New("no mount name provided for new file mount")
	}
	if !fs.ValidPath(mountName) || mountName == "." {
		return nil, ErrInvalidPath{mountName}
	}

	if dirPath == "" {
		subFS, err := fs.Sub(embeddedFS, mountName)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %w", mountName, err)
		}
		if _, err := fs.Stat(subFS, "."); err != nil {
			return nil, fmt.Errorf("embedded fs has no %q directory: %w", mountName, err)
		}
		return &FileMount{MountName: mountName, FS: subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("new mount at %q error: %w", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("new mount at %q is not a directory", dirPath)
	}
	return &FileMount{MountName: mountName, FromDisk: true, FS: os.DirFS(dirPath)}, nil
}

// Materialize writes the mount's files under root/MountName. Root must be an existing
// directory and root/MountName must not exist, so that edited files are never
// overwritten. It returns the paths written.
func (fm *FileMount) Materialize(root string) ([]string, error) {

	s, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("materialize root %q invalid: %w", root, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("materialize root %q is not a directory", root)
	}

	mountRoot := filepath.Join(root, filepath.FromSlash(fm.MountName))
	if _, err := os.Stat(mountRoot); !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("materialization path %q already exists", mountRoot)
	}
	if err := os.MkdirAll(mountRoot, 0o755); err != nil {
		return nil, fmt.Errorf("could not create mount root %q: %w", mountRoot, err)
	}

	var written []string
	err = fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fullPath := filepath.Join(mountRoot, filepath.FromSlash(path))

		if d.IsDir() {
			return os.MkdirAll(fullPath, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fm.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %w", path, fm.MountName, err)
		}
		if err := os.WriteFile(fullPath, data, 0o644); err != nil {
			return fmt.Errorf("could not write %q: %w", fullPath, err)
		}
		written = append(written, fullPath)
		return nil
	})
	return written, err
}

// Files lists the regular files in thisFS in walk order, as slash separated paths.
func Files(thisFS fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(thisFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
