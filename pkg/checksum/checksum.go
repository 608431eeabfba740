// Package checksum computes the streaming digests used to verify grid
// transfers: the legacy MD5 form (lowercase hex) and the SHA-256 form
// ("sha2:" followed by the base64 digest).
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"digital.vasic.brocoli/pkg/catalog"
)

// Algorithm names a digest algorithm.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
)

// sha2Prefix marks SHA-256 checksums.
const sha2Prefix = "sha2:"

// Parse maps a configuration value to an algorithm. An empty value yields
// def.
func Parse(s string, def Algorithm) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "md5":
		return MD5, nil
	case "sha256", "sha2":
		return SHA256, nil
	default:
		return "", fmt.Errorf("unsupported checksum algorithm %q", s)
	}
}

// Detect returns the algorithm a formatted checksum was produced with.
func Detect(sum string) Algorithm {
	if strings.HasPrefix(sum, sha2Prefix) {
		return SHA256
	}
	return MD5
}

// New returns a fresh hash for alg.
func New(alg Algorithm) hash.Hash {
	if alg == SHA256 {
		return sha256.New()
	}
	return md5.New()
}

// Format renders a raw digest the way the grid stores it.
func Format(alg Algorithm, sum []byte) string {
	if alg == SHA256 {
		return sha2Prefix + base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// Reader computes a digest over everything read through it.
type Reader struct {
	r   io.Reader
	h   hash.Hash
	alg Algorithm
}

// NewReader wraps r.
func NewReader(r io.Reader, alg Algorithm) *Reader {
	return &Reader{r: r, h: New(alg), alg: alg}
}

func (cr *Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the formatted digest of the bytes read so far.
func (cr *Reader) Sum() string {
	return Format(cr.alg, cr.h.Sum(nil))
}

// File hashes a local file in catalog.ChunkSize chunks, reporting each chunk
// length to onChunk. ctx is checked between chunks.
func File(ctx context.Context, path string, alg Algorithm, buf []byte, onChunk func(n int)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := New(alg)
	if _, err := catalog.CopyChunks(ctx, h, f, buf, onChunk); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return Format(alg, h.Sum(nil)), nil
}
