package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ScratchDirName holds raw downloads until their thumbnails exist.
const ScratchDirName = "_temp"

// StorageError wraps a failed filesystem operation inside a pack workspace.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("unable to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Workspace lays out pack assets under a single root:
// <root>/<packId>/ for processed files and <root>/<packId>/_temp/ for raw downloads.
type Workspace struct {
	fs   afero.Fs
	root string
}

func NewWorkspace(fs afero.Fs, root string) *Workspace {
	return &Workspace{fs: fs, root: root}
}

// NewLocalWorkspace is the workspace used by the service, backed by the OS filesystem.
func NewLocalWorkspace(root string) *Workspace {
	return NewWorkspace(afero.NewOsFs(), root)
}

func (v *Workspace) Fs() afero.Fs {
	return v.fs
}

func (v *Workspace) Root() string {
	return v.root
}

func (v *Workspace) PackPath(packId string) string {
	return filepath.Join(v.root, packId)
}

func (v *Workspace) ScratchPath(packId string) string {
	return filepath.Join(v.root, packId, ScratchDirName)
}

func (v *Workspace) Ensure(path string) error {
	if err := v.fs.MkdirAll(path, 0755); err != nil {
		return &StorageError{Op: "create directory", Path: path, Err: err}
	}
	return nil
}

// Remove deletes path recursively, a missing path is not an error.
func (v *Workspace) Remove(path string) error {
	if err := v.fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (v *Workspace) WriteFile(path string, data []byte) error {
	if err := v.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StorageError{Op: "create directory", Path: filepath.Dir(path), Err: err}
	}
	if err := afero.WriteFile(v.fs, path, data, 0644); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// List returns the files in dir matching pattern, sorted by name.
func (v *Workspace) List(dir, pattern string) ([]string, error) {
	matches, err := afero.Glob(v.fs, filepath.Join(dir, pattern))
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}
	return matches, nil
}

func (v *Workspace) Exists(path string) bool {
	ok, err := afero.Exists(v.fs, path)
	return err == nil && ok
}

// ScratchDirs returns every pack scratch directory currently on disk, keyed by pack id.
func (v *Workspace) ScratchDirs() (map[string]os.FileInfo, error) {
	entries, err := afero.ReadDir(v.fs, v.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Path: v.root, Err: err}
	}

	out := make(map[string]os.FileInfo)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := v.fs.Stat(v.ScratchPath(entry.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		out[entry.Name()] = info
	}
	return out, nil
}
