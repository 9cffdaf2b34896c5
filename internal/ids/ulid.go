// Package ids mints the ULIDs used as conversation and message identifiers.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator returns ULID strings (26 chars). IDs minted within the same
// millisecond are strictly increasing, so they break timestamp ties in mint order.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return newGenerator(rand.Reader)
}

func newGenerator(r io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(r, 0)}
}

// New returns a new ULID for the given instant.
func (g *Generator) New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
