package contractvm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChecksumSize is the byte length of a code checksum.
const ChecksumSize = sha256.Size

// Checksum identifies immutable contract code by its SHA-256 digest.
type Checksum [ChecksumSize]byte

// NewChecksum hashes code.
func NewChecksum(code []byte) Checksum {
	return sha256.Sum256(code)
}

// ParseChecksum decodes a hex checksum.
func ParseChecksum(s string) (Checksum, error) {
	var c Checksum
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode checksum: %w", err)
	}
	if len(b) != ChecksumSize {
		return c, fmt.Errorf("checksum must be %d bytes, got %d", ChecksumSize, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// String returns the lowercase hex form.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// Short returns the first eight hex characters, for logs.
func (c Checksum) Short() string {
	return hex.EncodeToString(c[:4])
}

// IsZero reports whether c is unset.
func (c Checksum) IsZero() bool {
	return c == Checksum{}
}
