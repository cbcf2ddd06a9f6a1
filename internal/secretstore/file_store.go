package secretstore

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

type fileStore struct {
	dir string
}

func newFileStore() fileStore {
	u, err := user.Current()
	if err != nil {
		return fileStore{dir: ".toom-secrets"}
	}
	return fileStore{dir: filepath.Join(u.HomeDir, ".toom-secrets")}
}

func (f fileStore) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f fileStore) Put(n string, d []byte) error {
	path := f.path(n)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, d, 0600)
}

func (f fileStore) Get(n string) ([]byte, error) {
	d, err := os.ReadFile(f.path(n))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	return d, err
}

func (f fileStore) Delete(n string) error {
	err := os.Remove(f.path(n))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	return err
}
