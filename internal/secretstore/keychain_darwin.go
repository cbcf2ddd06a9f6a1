//go:build darwin

package secretstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

func init() { Default = keyringStore("toom") }

type keyringStore string

func (k keyringStore) Put(n string, d []byte) error { return keyring.Set(string(k), n, string(d)) }
func (k keyringStore) Get(n string) ([]byte, error) {
	s, err := keyring.Get(string(k), n)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	return []byte(s), err
}
func (k keyringStore) Delete(n string) error {
	err := keyring.Delete(string(k), n)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	return err
}
