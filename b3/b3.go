package b3

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes used across the repo.
const Size = 32

// HashReader hashes everything r yields and returns the hex digest and the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("calculating blake3 hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashPath hashes the file at path.
func HashPath(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sum, n, err := HashReader(f)
	if err != nil {
		return "", n, fmt.Errorf("%s: %w", path, err)
	}
	return sum, n, nil
}

func New() hash.Hash {
	return blake3.New(Size, nil)
}

// Fingerprint accumulates length-prefixed fields so that ("ab","c") and ("a","bc") differ.
type Fingerprint struct {
	h hash.Hash
}

func NewFingerprint() *Fingerprint {
	return &Fingerprint{h: New()}
}

func (f *Fingerprint) Field(s string) {
	fmt.Fprintf(f.h, "%d:", len(s))
	io.WriteString(f.h, s)
}

func (f *Fingerprint) Hex() string {
	return hex.EncodeToString(f.h.Sum(nil))
}
