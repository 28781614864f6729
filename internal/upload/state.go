package upload

import (
	"time"
)

// Status is the lifecycle state of a resumable upload session.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusSessionOpen Status = "session_open"
	StatusUploading   Status = "uploading"
	StatusFinalized   Status = "finalized"
	StatusAborted     Status = "aborted"
)

// IsTerminal returns true if the session can make no further progress
func (s Status) IsTerminal() bool {
	return s == StatusFinalized || s == StatusAborted
}

// PartRecord represents a single part sent within a session
type PartRecord struct {
	Number       int       `json:"number"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	Completed    bool      `json:"completed"`
	LastModified time.Time `json:"last_modified"`
	Offset       int64     `json:"offset"`          // Byte offset in the stream
	RetryCount   int       `json:"retry_count"`     // Number of failed attempts
	Error        string    `json:"error,omitempty"` // Last error if any
}

// CompletedPart is what a protocol needs to finalize a session
type CompletedPart struct {
	Number int
	ETag   string
	Size   int64
}

// Progress tracks the parts of one session
type Progress struct {
	Token          string              `json:"token"`
	TotalSize      int64               `json:"total_size"` // -1 when unknown
	ChunkSize      int64               `json:"chunk_size"`
	Parts          map[int]*PartRecord `json:"parts"` // Key is part number
	StartedAt      time.Time           `json:"started_at"`
	LastUpdatedAt  time.Time           `json:"last_updated_at"`
	CompletedParts int                 `json:"completed_parts"`
	TotalParts     int                 `json:"total_parts"` // 0 when unknown
	BytesUploaded  int64               `json:"bytes_uploaded"`
}

// CalculatePartCount returns the number of parts needed for totalSize bytes.
// An empty stream still takes one part; an unknown size yields 0.
func CalculatePartCount(totalSize, chunkSize int64) int {
	if totalSize < 0 || chunkSize <= 0 {
		return 0
	}
	if totalSize == 0 {
		return 1
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// NewProgress creates a part tracker for a freshly opened session
func NewProgress(token string, totalSize, chunkSize int64) *Progress {
	now := time.Now()
	return &Progress{
		Token:         token,
		TotalSize:     totalSize,
		ChunkSize:     chunkSize,
		Parts:         make(map[int]*PartRecord),
		StartedAt:     now,
		LastUpdatedAt: now,
		TotalParts:    CalculatePartCount(totalSize, chunkSize),
	}
}

func (p *Progress) part(number int, offset int64) *PartRecord {
	if p.Parts[number] == nil {
		p.Parts[number] = &PartRecord{Number: number, Offset: offset}
	}
	return p.Parts[number]
}

// MarkPartCompleted records a successfully sent part
func (p *Progress) MarkPartCompleted(number int, offset, size int64, etag string) {
	part := p.part(number, offset)
	if part.Completed {
		return
	}
	part.Size = size
	part.ETag = etag
	part.Completed = true
	part.LastModified = time.Now()
	part.Error = ""

	p.CompletedParts++
	p.BytesUploaded += size
	p.LastUpdatedAt = part.LastModified
}

// MarkPartFailed records a failed attempt for a part
func (p *Progress) MarkPartFailed(number int, offset int64, err error) {
	part := p.part(number, offset)
	part.Completed = false
	part.RetryCount++
	part.LastModified = time.Now()
	part.Error = err.Error()

	p.LastUpdatedAt = part.LastModified
}

// IsComplete returns true if every expected part has been sent
func (p *Progress) IsComplete() bool {
	return p.TotalParts > 0 && p.CompletedParts == p.TotalParts
}

// Percent returns the upload progress as a percentage (0-100)
func (p *Progress) Percent() float64 {
	if p.TotalSize > 0 {
		return float64(p.BytesUploaded) / float64(p.TotalSize) * 100
	}
	if p.TotalParts == 0 {
		return 0
	}
	return float64(p.CompletedParts) / float64(p.TotalParts) * 100
}

// RemainingParts returns the part numbers that still need to be sent
func (p *Progress) RemainingParts() []int {
	remaining := make([]int, 0)
	for i := 1; i <= p.TotalParts; i++ {
		part, exists := p.Parts[i]
		if !exists || !part.Completed {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// Completed returns the sent parts in part-number order
func (p *Progress) Completed() []CompletedPart {
	completed := make([]CompletedPart, 0, p.CompletedParts)
	for i := 1; i <= len(p.Parts); i++ {
		if part, exists := p.Parts[i]; exists && part.Completed {
			completed = append(completed, CompletedPart{Number: part.Number, ETag: part.ETag, Size: part.Size})
		}
	}
	return completed
}
