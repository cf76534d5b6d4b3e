package sync

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var helloSHA256 = func() []byte {
	sum := sha256.Sum256([]byte("hello"))
	return sum[:]
}()

func TestParseDigest(t *testing.T) {
	tests := []struct {
		name string
		in   string
		algo string
	}{
		{"wire form", "SHA-256=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", "sha256"},
		{"standard alphabet", "sha256=LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", "sha256"},
		{"unpadded", "sha-256=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ", "sha256"},
		{"underscore spelling", "SHA_256=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", "sha256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDigest(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.algo, d.Algorithm)
			assert.Equal(t, helloSHA256, d.Sum)
		})
	}
}

func TestParseDigest_md5AndSHA1(t *testing.T) {
	d, err := ParseDigest("MD5=XUFAKrxLKna5cZ2REBfFkg==")
	require.NoError(t, err)
	assert.Equal(t, "md5", d.Algorithm)
	assert.Len(t, d.Sum, 16)

	d, err = ParseDigest("SHA-1=qvTGHdzF6KLavt4PO0gs2a6pQ00=")
	require.NoError(t, err)
	assert.Equal(t, "sha1", d.Algorithm)
	assert.Len(t, d.Sum, 20)
}

func TestParseDigest_errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrInvalidDigest},
		{"sha256", ErrInvalidDigest},
		{"=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", ErrInvalidDigest},
		{"sha256=", ErrInvalidDigest},
		{"sha256=not*base64!", ErrInvalidDigest},
		{"crc32=AAAAAA==", ErrUnsupportedAlgorithm},
		{"blake3=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", ErrUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		_, err := ParseDigest(tt.in)
		assert.ErrorIs(t, err, tt.want, "ParseDigest(%q)", tt.in)
	}
}

func TestDigest_String(t *testing.T) {
	d := Digest{Algorithm: "sha256", Sum: helloSHA256}
	assert.Equal(t, "SHA-256=LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", d.String())

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d))
}

func TestDigest_Equal(t *testing.T) {
	a := Digest{Algorithm: "sha256", Sum: helloSHA256}

	assert.True(t, a.Equal(Digest{Algorithm: "sha256", Sum: append([]byte(nil), helloSHA256...)}))
	assert.False(t, a.Equal(Digest{Algorithm: "sha512", Sum: helloSHA256}))
	assert.False(t, a.Equal(Digest{Algorithm: "sha256", Sum: helloSHA256[:31]}))
}

func TestNewDigest(t *testing.T) {
	d, err := NewDigest("SHA-256", helloSHA256)
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm)

	_, err = NewDigest("crc32", nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
