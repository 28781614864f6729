package upload

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

func TestHasherDigests(t *testing.T) {
	h, err := NewHasher(strings.NewReader("hello"), MD5, SHA1, SHA256, "SHA512", MD5)
	require.NoError(t, err)

	data, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, h.BytesRead())

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", h.Sum(MD5))
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", h.Sum(SHA1))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h.Sum(SHA256))
	assert.Len(t, h.Sum(SHA512), 128)
	assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg==", h.SumBase64(MD5))
	assert.Len(t, h.Sums(), 4)
	assert.Equal(t, "", h.Sum("crc32"))
}

func TestHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewHasher(strings.NewReader(""), "crc32")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidParameters))
}

func TestHasherVerify(t *testing.T) {
	h, err := NewHasher(strings.NewReader("hello"), MD5)
	require.NoError(t, err)
	_, _ = io.ReadAll(h)

	assert.NoError(t, h.Verify(MD5, `"5d41402abc4b2a76b9719d911017c592"`))
	assert.NoError(t, h.Verify(MD5, "5D41402ABC4B2A76B9719D911017C592"))
	assert.NoError(t, h.Verify(MD5, ""))

	err = h.Verify(MD5, "00000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataIntegrity))
}

func TestHasherSeekResets(t *testing.T) {
	h, err := NewHasher(bytes.NewReader([]byte("hello")), MD5)
	require.NoError(t, err)
	_, _ = io.ReadAll(h)

	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, h.BytesRead())

	_, _ = io.ReadAll(h)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", h.Sum(MD5))

	unseekable, err := NewHasher(io.MultiReader(strings.NewReader("x")), MD5)
	require.NoError(t, err)
	_, err = unseekable.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

func TestCalculatePartCount(t *testing.T) {
	tests := []struct {
		name          string
		fileSize      int64
		chunkSize     int64
		expectedParts int
	}{
		{"exact division", 64000000 * 2, 64000000, 2},
		{"with remainder", 64000000*2 + 1, 64000000, 3},
		{"smaller than chunk", 10, 64000000, 1},
		{"empty stream", 0, 64000000, 1},
		{"unknown size", -1, 64000000, 0},
		{"invalid chunk", 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculatePartCount(tt.fileSize, tt.chunkSize); got != tt.expectedParts {
				t.Errorf("CalculatePartCount(%d, %d) = %d, want %d", tt.fileSize, tt.chunkSize, got, tt.expectedParts)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	p := NewProgress("token-123", 100, 16)

	if p.TotalParts != 7 {
		t.Errorf("Expected 7 parts, got %d", p.TotalParts)
	}

	p.MarkPartCompleted(1, 0, 16, "etag-1")
	p.MarkPartCompleted(2, 16, 16, "etag-2")
	p.MarkPartCompleted(2, 16, 16, "etag-2")

	if p.CompletedParts != 2 {
		t.Errorf("Expected 2 completed parts, got %d", p.CompletedParts)
	}
	if p.Percent() != 32 {
		t.Errorf("Expected 32%%, got %.2f%%", p.Percent())
	}

	p.MarkPartFailed(3, 32, errors.Upload("boom", 500))
	if p.Parts[3].Completed || p.Parts[3].RetryCount != 1 {
		t.Errorf("Unexpected part 3 state %+v", p.Parts[3])
	}

	if remaining := p.RemainingParts(); len(remaining) != 5 {
		t.Errorf("Expected 5 remaining parts, got %v", remaining)
	}

	completed := p.Completed()
	if len(completed) != 2 || completed[1].ETag != "etag-2" {
		t.Errorf("Unexpected completed parts %+v", completed)
	}
	if p.IsComplete() {
		t.Error("Expected upload to not be complete")
	}

	for i := 3; i <= 7; i++ {
		p.MarkPartCompleted(i, int64(i-1)*16, 16, "etag")
	}
	if !p.IsComplete() {
		t.Error("Expected upload to be complete")
	}
}
