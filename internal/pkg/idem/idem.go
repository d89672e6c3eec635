// Package idem builds deterministic idempotency keys.
package idem

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

// Key hashes the ordered components into a hex digest. The same components
// always yield the same key.
func Key(components ...string) string {
	h := sha256.New()
	for _, c := range components {
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Counter hands out strictly increasing values so that two otherwise
// identical actions in the same millisecond still get distinct keys.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next counter value.
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// EntryKey derives the key for an entry intent.
func EntryKey(sessionID string, side string, quantity, strike int, tsMillis int64, reason string, counter uint64) string {
	return Key(
		sessionID,
		side,
		strconv.Itoa(quantity),
		strconv.Itoa(strike),
		strconv.FormatInt(tsMillis, 10),
		reason,
		strconv.FormatUint(counter, 10),
	)
}

// ExitKey derives the key for an exit intent. One exit per position: the key
// depends only on the position, so a second exit attempt for the same
// position is a duplicate by construction.
func ExitKey(positionID string) string {
	return Key(positionID, "exit")
}
