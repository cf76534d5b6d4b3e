package sync

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// wireNames are the algorithm spellings used when encoding a digest.
var wireNames = map[string]string{
	"md5":    "MD5",
	"sha1":   "SHA-1",
	"sha256": "SHA-256",
	"sha384": "SHA-384",
	"sha512": "SHA-512",
}

var urlToStd = strings.NewReplacer("_", "/", "-", "+")

// Digest is a content hash tagged with the algorithm that produced it.
type Digest struct {
	Algorithm string // canonical name, e.g. "sha256"
	Sum       []byte
}

// ParseDigest decodes the wire form "<algorithm>=<urlsafe base64 hash>".
// The algorithm ends at the first "="; anything after it, padding included,
// is the hash.
func ParseDigest(s string) (Digest, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" || value == "" {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}

	algo, err := canonicalAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}

	value = urlToStd.Replace(value)
	sum, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		sum, err = base64.RawStdEncoding.DecodeString(value)
	}
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %q: %v", ErrInvalidDigest, s, err)
	}
	return Digest{Algorithm: algo, Sum: sum}, nil
}

// NewDigest tags sum with algorithm, which may be spelled in any supported form.
func NewDigest(algorithm string, sum []byte) (Digest, error) {
	algo, err := canonicalAlgorithm(algorithm)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: algo, Sum: sum}, nil
}

// Equal reports whether both digests use the same algorithm and hash bytes.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && bytes.Equal(d.Sum, o.Sum)
}

// String encodes d in the wire form.
func (d Digest) String() string {
	name, ok := wireNames[d.Algorithm]
	if !ok {
		name = d.Algorithm
	}
	return name + "=" + base64.URLEncoding.EncodeToString(d.Sum)
}

func newHash(algorithm string) (hash.Hash, error) {
	algo, err := canonicalAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	return algorithms[algo](), nil
}

// canonicalAlgorithm folds "SHA-256", "sha_256" and "sha256" to one name.
func canonicalAlgorithm(name string) (string, error) {
	algo := strings.ToLower(name)
	algo = strings.NewReplacer("-", "", "_", "").Replace(algo)
	if _, ok := algorithms[algo]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return algo, nil
}
