package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names the content digest used for artifacts.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm validates an algorithm name; empty selects SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	}
	return "", fmt.Errorf("unsupported digest algorithm %q (want sha256 or blake3)", s)
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case BLAKE3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// Sum digests b and returns "<algorithm>:<hex>".
func (a Algorithm) Sum(b []byte) string {
	h := a.New()
	_, _ = h.Write(b)
	return a.Format(h.Sum(nil))
}

// Format renders a raw digest as "<algorithm>:<hex>".
func (a Algorithm) Format(sum []byte) string {
	return string(a.normalized()) + ":" + hex.EncodeToString(sum)
}

func (a Algorithm) normalized() Algorithm {
	if a == "" {
		return SHA256
	}
	return a
}

// SplitDigest splits "<algorithm>:<hex>" into its parts.
func SplitDigest(d string) (Algorithm, string, error) {
	alg, hexsum, ok := strings.Cut(d, ":")
	if !ok || hexsum == "" {
		return "", "", fmt.Errorf("malformed digest %q", d)
	}
	a, err := ParseAlgorithm(alg)
	if err != nil {
		return "", "", err
	}
	return a, hexsum, nil
}
