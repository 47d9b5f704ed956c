package xid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// Folio returns a human-facing sale identifier, e.g. V-20260318-142501-3F9A1C.
func Folio(now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("V-%d", now.UnixNano())
	}
	return fmt.Sprintf("V-%s-%X", now.UTC().Format("20060102-150405"), buf)
}

// Token returns an opaque 256-bit hex token.
func Token() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ProductCode returns a random 8-digit code suitable as a SKU.
func ProductCode() string {
	const span = 100_000_000
	// Rejection sampling keeps the distribution uniform.
	limit := uint32(1<<32 - (1<<32)%span)
	buf := make([]byte, 4)
	for {
		if _, err := rand.Read(buf); err != nil {
			return fmt.Sprintf("%08d", time.Now().UnixNano()%span)
		}
		v := binary.BigEndian.Uint32(buf)
		if v < limit {
			return fmt.Sprintf("%08d", v%span)
		}
	}
}
