// internal/checkpoint/fs.go
package checkpoint

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// WorkTree is the set of file operations the engine performs on a project's
// working files. Paths are absolute.
type WorkTree interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
	WriteFileAtomic(path string, data []byte, perm fs.FileMode) error
	Remove(path string) error
}

// Ignorer decides which project paths are tracked. Paths are relative to
// the project root and slash separated.
type Ignorer interface {
	Match(path string, isDir bool) bool
}

// reloader is implemented by ignorers backed by files that can change
// between captures, such as .gitignore
type reloader interface {
	Reload() error
}

// OSWorkTree implements WorkTree on the local file system
type OSWorkTree struct{}

func (OSWorkTree) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSWorkTree) Stat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partially written file.
func (OSWorkTree) WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	if err := os.Chmod(tmpPath, perm.Perm()); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (OSWorkTree) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// statEntry remembers the hash computed for a file at a given size and mtime
type statEntry struct {
	size       int64
	modTime    time.Time
	mode       fs.FileMode
	hash       string
	recordedAt time.Time
}

// racyWindow guards against same-size rewrites landing within the file
// system's mtime granularity of the previous hash.
const racyWindow = 2 * time.Second

func (e statEntry) matches(info fs.FileInfo) bool {
	return e.size == info.Size() &&
		e.modTime.Equal(info.ModTime()) &&
		e.mode == info.Mode() &&
		e.recordedAt.Sub(info.ModTime()) > racyWindow
}
