// Package secretstore keeps remembered client passwords in the platform
// secret store.
package secretstore

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when nothing is stored under a name.
var ErrNotFound = errors.New("secret not found")

type Store interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
}

var Default Store // set in init of each platform file

// Name returns the secret name of a user's password on a server address.
func Name(server, username string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(server) + "_" + r.Replace(username)
}
