// Package crypto holds the process-scoped secrets of an engine: the secret
// key and the SYN-cookie jar built on it.
package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"
)

// SecretSize is the length of an engine secret in bytes.
const SecretSize = 32

// Secret keys the cookie MAC. Each Server or Client owns its own.
type Secret [SecretSize]byte

// NewSecret reads a fresh secret from r, or from crypto/rand if r is nil.
func NewSecret(r io.Reader) (Secret, error) {
	var s Secret
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return s, fmt.Errorf("io.ReadFull(rand, %d): %w", SecretSize, err)
	}
	return s, nil
}

// SeededReader returns a deterministic byte stream derived from seed.
// Tests in other packages pass it as config.Dependencies.Rand so that
// engine secrets and cookies repeat between runs. Never use it for
// production secrets.
func SeededReader(seed string) io.Reader {
	return &dRand{next: []byte(seed)}
}

type dRand struct {
	next []byte
}

func (d *dRand) cycle() []byte {
	result := sha512.Sum512(d.next)
	d.next = result[:sha512.Size/2]
	return result[sha512.Size/2:]
}

func (d *dRand) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		out := d.cycle()
		n += copy(b[n:], out)
	}
	return n, nil
}
