package util

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strings"
)

// ErrDigestMismatch replaces io.EOF when the stream does not hash to the
// digest set with Expect.
var ErrDigestMismatch = errors.New("sha1 digest mismatch")

// HashingReader hashes (SHA-1) and counts everything read through it.
type HashingReader struct {
	r        io.Reader
	h        hash.Hash
	n        int64
	want     string
	mismatch bool
}

// NewHashingReader wraps r.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha1.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	if err == io.EOF && hr.want != "" && hr.Sum() != hr.want {
		hr.mismatch = true
		return n, ErrDigestMismatch
	}
	return n, err
}

// Expect makes the end of the stream fail with ErrDigestMismatch unless the
// bytes read hash to sum (hex, any case). Consumers that commit only on
// io.EOF therefore never commit a mismatching stream.
func (hr *HashingReader) Expect(sum string) {
	hr.want = strings.ToLower(sum)
}

// Mismatched reports whether the end of the stream was reached with a
// digest other than the expected one.
func (hr *HashingReader) Mismatched() bool {
	return hr.mismatch
}

// Sum returns the hex-encoded SHA-1 of the bytes read so far.
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (hr *HashingReader) Size() int64 {
	return hr.n
}

// SHA1Stream drains r and returns:
//   - the hex-encoded SHA-1 digest
//   - the number of bytes read
func SHA1Stream(r io.Reader, chunk int) (sum string, size int64, err error) {
	h := sha1.New()
	buf := make([]byte, chunk)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
