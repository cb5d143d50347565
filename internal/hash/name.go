package hash

import (
	"github.com/dgryski/go-farm"
)

// Name hashes a variable name for the directory's quick-reject comparison.
// The value is persisted in every entry, so the function must never change.
func Name(name []byte) uint32 {
	return farm.Hash32(name)
}
