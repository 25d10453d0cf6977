package crypto

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2b"
)

// CookieEpoch is how long one cookie generation stays current. A cookie is
// accepted during its own epoch and the next one.
const CookieEpoch = 30 * time.Second

// CookieJar issues and verifies handshake cookies without keeping any
// per-address state. A cookie is the first four bytes of a keyed BLAKE2b MAC
// over the epoch number and the peer address.
type CookieJar struct {
	secret Secret
}

// NewCookieJar creates a jar keyed with secret.
func NewCookieJar(secret Secret) *CookieJar {
	return &CookieJar{secret: secret}
}

// Issue returns the cookie for addr at time now. It is never 0, since 0 on
// the wire means "no cookie".
func (j *CookieJar) Issue(addr netip.AddrPort, now time.Time) uint32 {
	return j.compute(addr, epochOf(now))
}

// Verify reports whether cookie was issued to addr in the current or the
// previous epoch.
func (j *CookieJar) Verify(addr netip.AddrPort, cookie uint32, now time.Time) bool {
	if cookie == 0 {
		return false
	}
	epoch := epochOf(now)
	return cookie == j.compute(addr, epoch) || cookie == j.compute(addr, epoch-1)
}

func (j *CookieJar) compute(addr netip.AddrPort, epoch uint64) uint32 {
	mac, err := blake2b.New256(j.secret[:])
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(fmt.Sprintf("blake2b.New256(): %s", err))
	}

	var buf [8 + 16 + 2]byte
	binary.BigEndian.PutUint64(buf[:8], epoch)
	ip := addr.Addr().Unmap().As16()
	copy(buf[8:24], ip[:])
	binary.BigEndian.PutUint16(buf[24:], addr.Port())
	mac.Write(buf[:])

	sum := mac.Sum(nil)
	cookie := binary.LittleEndian.Uint32(sum[:4])
	if cookie == 0 {
		cookie = 1
	}
	return cookie
}

func epochOf(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(CookieEpoch/time.Second)
}
