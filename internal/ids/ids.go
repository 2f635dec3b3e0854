// Package ids generates request identifiers.
package ids

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

var pool = sync.Pool{
	New: func() any {
		return ulid.Monotonic(rand.Reader, 0)
	},
}

// New returns a ULID string: time-ordered, unique, and safe to hand out as
// an X-Request-Id value.
func New() string {
	entropy := pool.Get().(*ulid.MonotonicEntropy)
	defer pool.Put(entropy)
	return ulid.MustNew(ulid.Now(), entropy).String()
}
