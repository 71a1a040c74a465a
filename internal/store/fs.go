package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type FS interface {
	Rename(oldpath, newpath string) error
	Remove(path string) error

	OpenReader(path string) (io.ReadCloser, error)
	OpenWriter(path string) (io.WriteCloser, error)

	Exist(path string) bool
}

func ReadAll(path string, fs FS) ([]byte, error) {
	r, err := fs.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func WriteAll(path string, data []byte, fs FS) error {
	f, err := fs.OpenWriter(path)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func Copy(from, to string, fs FS) error {
	r, err := fs.OpenReader(from)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := fs.OpenWriter(to)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	if err != nil {
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

type LocalFS struct {
	root string
}

func NewLocalFS(root string) (*LocalFS, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("could not create directory: %w", err)
	}
	return &LocalFS{root: root}, nil
}

func (l LocalFS) Remove(path string) error {
	return os.Remove(filepath.Join(l.root, path))
}

func (l LocalFS) Rename(oldpath, newpath string) error {
	return os.Rename(filepath.Join(l.root, oldpath), filepath.Join(l.root, newpath))
}

func (l LocalFS) OpenReader(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(l.root, path))
}

// OpenWriter truncates path. Writes are synchronous so a closed writer is on disk.
func (l LocalFS) OpenWriter(path string) (io.WriteCloser, error) {
	return os.OpenFile(filepath.Join(l.root, path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, 0644)
}

func (l LocalFS) Exist(path string) bool {
	_, err := os.Stat(filepath.Join(l.root, path))
	return !errors.Is(err, os.ErrNotExist)
}
