// Package digest computes and verifies the SHA-256 digests the registry
// records for every distribution.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"
	"regexp"

	"github.com/atoll-registry/atoll/pkg/types"
)

// HexLength is the width of an encoded digest.
const HexLength = sha256.Size * 2

var hexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidHex reports whether s is a well-formed digest: exactly 64 lowercase
// hex characters.
func ValidHex(s string) bool {
	return hexPattern.MatchString(s)
}

// Writer streams bytes into SHA-256 while counting them. Callers push
// chunks through Write and read the digest with SumHex once the stream
// ends.
type Writer struct {
	h    hash.Hash
	size int64
}

// NewWriter returns a fresh digest writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.size += int64(n)
	return n, nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.size
}

// SumHex returns the digest of everything written so far as 64 lowercase
// hex characters. The writer may keep accepting bytes afterwards.
func (w *Writer) SumHex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// SumReader drains r through a digest writer and returns the digest and
// byte count.
func SumReader(r io.Reader) (string, int64, error) {
	w := NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return "", 0, err
	}
	return w.SumHex(), w.Size(), nil
}

// SumBytes returns the digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests in constant time.
func Equal(expected, actual string) bool {
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

// Verify checks the computed digest and size of filename against the
// declared values, returning the registry error the publish pipeline
// surfaces on disagreement.
func Verify(filename, declaredDigest string, declaredSize int64, w *Writer) *types.RegistryError {
	if w.Size() != declaredSize {
		return types.ErrSizeMismatch(filename, declaredSize, w.Size())
	}
	if actual := w.SumHex(); !Equal(declaredDigest, actual) {
		return types.ErrDigestMismatch(filename, declaredDigest, actual)
	}
	return nil
}
