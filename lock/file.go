package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileLocker implements Locker with exclusively-created lock files in a
// directory, which may be shared by several processes on one host.
// A crashed holder leaves its lock file behind; the file records the
// holder's pid so an operator can tell whose lock it was.
type FileLocker struct {
	dir string
}

// NewFileLocker creates the lock directory if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

func (f *FileLocker) Acquire(name string) (bool, error) {
	file, err := os.OpenFile(f.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	fmt.Fprintf(file, "%d", os.Getpid())
	return true, file.Close()
}

func (f *FileLocker) Release(name string) error {
	err := os.Remove(f.path(name))
	if os.IsNotExist(err) {
		return ErrNotHeld
	}
	return err
}

func (f *FileLocker) path(name string) string {
	return filepath.Join(f.dir, name+".lock")
}
