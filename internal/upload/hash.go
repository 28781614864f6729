package upload

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Supported digest names.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Hasher computes digests of everything read through it.
type Hasher struct {
	src    io.Reader
	names  []string
	hashes map[string]hash.Hash
	tee    io.Reader
	n      int64
}

// NewHasher wraps src. Unknown digest names are an error.
func NewHasher(src io.Reader, names ...string) (*Hasher, error) {
	h := &Hasher{src: src, hashes: make(map[string]hash.Hash, len(names))}
	for _, name := range names {
		name = strings.ToLower(name)
		if _, dup := h.hashes[name]; dup {
			continue
		}
		fn, err := newHash(name)
		if err != nil {
			return nil, err
		}
		h.names = append(h.names, name)
		h.hashes[name] = fn
	}
	h.reset()
	return h, nil
}

func newHash(name string) (hash.Hash, error) {
	switch name {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	}
	return nil, errors.InvalidParameters(fmt.Sprintf("unsupported hash algorithm %q", name))
}

func (h *Hasher) reset() {
	writers := make([]io.Writer, 0, len(h.names))
	for _, name := range h.names {
		h.hashes[name].Reset()
		writers = append(writers, h.hashes[name])
	}
	h.n = 0
	h.tee = io.TeeReader(h.src, io.MultiWriter(writers...))
}

// Read implements io.Reader.
func (h *Hasher) Read(p []byte) (int, error) {
	n, err := h.tee.Read(p)
	h.n += int64(n)
	return n, err
}

// Seek rewinds the source to the start and resets every digest. Only
// Seek(0, io.SeekStart) on a seekable source is supported.
func (h *Hasher) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := h.src.(io.Seeker)
	if !ok || offset != 0 || whence != io.SeekStart {
		return 0, errors.NewError(errors.ErrCodeUnsupportedOperation, "stream cannot be rewound")
	}
	pos, err := seeker.Seek(0, io.SeekStart)
	if err != nil {
		return pos, err
	}
	h.reset()
	return pos, nil
}

// BytesRead returns the number of bytes read so far.
func (h *Hasher) BytesRead() int64 { return h.n }

// Sum returns the hex digest for name, or "" if it is not tracked.
func (h *Hasher) Sum(name string) string {
	fn, ok := h.hashes[strings.ToLower(name)]
	if !ok {
		return ""
	}
	return hex.EncodeToString(fn.Sum(nil))
}

// SumBase64 returns the base64 digest for name, as used by Content-MD5.
func (h *Hasher) SumBase64(name string) string {
	fn, ok := h.hashes[strings.ToLower(name)]
	if !ok {
		return ""
	}
	return base64.StdEncoding.EncodeToString(fn.Sum(nil))
}

// Sums returns every tracked hex digest.
func (h *Hasher) Sums() map[string]string {
	out := make(map[string]string, len(h.names))
	for _, name := range h.names {
		out[name] = h.Sum(name)
	}
	return out
}

// Verify compares the local digest with the backend-reported value. Quotes
// around the reported value (S3 ETags) are ignored, and an empty value means
// the backend reported nothing.
func (h *Hasher) Verify(name, reported string) error {
	reported = strings.Trim(strings.TrimSpace(reported), `"`)
	if reported == "" {
		return nil
	}
	local := h.Sum(name)
	if !strings.EqualFold(local, reported) {
		return errors.DataIntegrity(name, local, reported)
	}
	return nil
}
