// Package md5sum computes the hex MD5 digests csup uses to detect
// content drift between client and server, mirroring the source's
// MD5_File/MD5_End pair.
package md5sum

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// Size is the length in bytes of a hex-encoded MD5 digest.
const Size = md5.Size * 2

// File returns the hex MD5 digest of the file at path, and its size.
func File(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Filter wraps a Writer with a running MD5 digest, used by stream
// filters that need the checksum of everything written through them
// (the source's STREAM_FILTER_MD5).
type Filter struct {
	w io.Writer
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewFilter returns a Filter that forwards writes to w while
// accumulating their MD5 digest.
func NewFilter(w io.Writer) *Filter {
	return &Filter{w: w, h: md5.New()}
}

func (f *Filter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if n > 0 {
		f.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (f *Filter) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}
