// Package model holds the data types shared across the upload engine's
// components: chunks, per-file upload state, queue items, and stats.
package model

import "time"

// UploadStatus is the lifecycle state of one file's upload.
type UploadStatus string

const (
	StatusInitialized UploadStatus = "initialized"
	StatusUploading   UploadStatus = "uploading"
	StatusPaused      UploadStatus = "paused"
	StatusInterrupted UploadStatus = "interrupted"
	StatusCompleted   UploadStatus = "completed"
	StatusError       UploadStatus = "error"
)

// ChunkKind distinguishes byte-range chunks from parsed-row chunks.
type ChunkKind string

const (
	KindBinary ChunkKind = "binary"
	KindLines  ChunkKind = "lines"
)

// UnknownTotal is the sentinel chunk count used while a line-based parser
// has not yet reached EOF and cannot report a final chunk total.
const UnknownTotal = -1

// Chunk is a transient unit produced by the Chunker. For KindBinary, Offset
// and Size describe a byte range into the source file and Rows is nil. For
// KindLines, Rows holds the parsed row data and Offset/Size are left zero.
type Chunk struct {
	Index   int
	Total   int // may be UnknownTotal until the sequence is finalized
	Kind    ChunkKind
	Offset  int64
	Size    int64
	Payload []byte
	Rows    [][]string
}

// ChunkState is the persisted record of one chunk's upload attempts.
type ChunkState struct {
	Index            int       `json:"index"`
	Size             int64     `json:"size"`
	Offset           int64     `json:"offset"`
	Checksum         string    `json:"checksum"`
	Attempts         int       `json:"attempts"`
	LastAttemptEpoch int64     `json:"last_attempt_epoch_ms"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UploadState is the persisted record of one file's upload progress.
type UploadState struct {
	FileID         string       `json:"file_id"`
	FileName       string       `json:"file_name"`
	FileSize       int64        `json:"file_size"`
	MimeType       string       `json:"mime_type"`
	TotalChunks    int          `json:"total_chunks"`
	UploadedChunks map[int]bool `json:"uploaded_chunks"`
	StartTime      time.Time    `json:"start_time"`
	LastUpdateTime time.Time    `json:"last_update_time"`
	BytesUploaded  int64        `json:"bytes_uploaded"`
	Status         UploadStatus `json:"status"`
	ResumeToken    string       `json:"resume_token"`
	Checksum       string       `json:"checksum"`
	Error          string       `json:"error,omitempty"`
}

// Clone returns a deep copy so callers can mutate without racing a holder
// of the original (the write-through cache hands out clones on read).
func (s *UploadState) Clone() *UploadState {
	if s == nil {
		return nil
	}

	cp := *s

	cp.UploadedChunks = make(map[int]bool, len(s.UploadedChunks))
	for k, v := range s.UploadedChunks {
		cp.UploadedChunks[k] = v
	}

	return &cp
}

// IsResumable reports whether a state with this status can be resumed.
func (s UploadStatus) IsResumable() bool {
	switch s {
	case StatusInitialized, StatusUploading, StatusPaused, StatusInterrupted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a state with this status is done for good
// (completed or permanently failed) and safe for the TTL sweep to remove.
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// ResumableChunks returns the set of chunk indexes not yet uploaded.
func (s *UploadState) ResumableChunks() []int {
	remaining := make([]int, 0, s.TotalChunks-len(s.UploadedChunks))

	for i := range s.TotalChunks {
		if !s.UploadedChunks[i] {
			remaining = append(remaining, i)
		}
	}

	return remaining
}

// QueueStatus is the lifecycle state of one queue item.
type QueueStatus string

const (
	QueueQueued    QueueStatus = "queued"
	QueueUploading QueueStatus = "uploading"
	QueuePaused    QueueStatus = "paused"
	QueueCompleted QueueStatus = "completed"
	QueueError     QueueStatus = "error"
)

// QueueItem is one file's entry in the Queue Scheduler.
type QueueItem struct {
	FileID        string
	Priority      int
	Status        QueueStatus
	RetryAttempts int
	StartTime     time.Time
	Stats         UploadStats
}

// UploadStats summarizes a single file's transfer progress.
type UploadStats struct {
	StartTime        time.Time
	TotalBytes       int64
	UploadedBytes    int64
	ChunksUploaded   int
	TotalChunks      int
	Speed            float64 // bytes/sec, instantaneous
	AverageSpeed     float64 // bytes/sec, since StartTime
	TimeRemaining    time.Duration
	RetryCount       int
}

// ResourceKind names the category of a tracked resource for accounting.
type ResourceKind string

const (
	ResourceChunk  ResourceKind = "chunk"
	ResourceBuffer ResourceKind = "buffer"
	ResourceStream ResourceKind = "stream"
	ResourceWorker ResourceKind = "worker"
	ResourceCache  ResourceKind = "cache"
)

// ResourceStats describes one tracked resource for diagnostics.
type ResourceStats struct {
	Type      ResourceKind
	Size      int64
	CreatedAt time.Time
	Metadata  map[string]string
}

// Progress is delivered to the caller's progress callback, throttled to at
// least 100ms between deliveries for a given file.
type Progress struct {
	FileID                string
	BytesUploaded         int64
	TotalBytes            int64
	Speed                 float64
	EstimatedTimeRemaining time.Duration
}
