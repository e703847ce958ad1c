package models

import "time"

// FileRecord represents file metadata stored in TiDB
type FileRecord struct {
	ID          string    `json:"fileId"`
	Length      int64     `json:"length"`
	ContentType string    `json:"contentType"`
	ChunkSize   int64     `json:"chunkSize"`
	Finalized   bool      `json:"finalized"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChunkCount returns the number of chunks a finalized file occupies
func (f *FileRecord) ChunkCount() int64 {
	if f.ChunkSize <= 0 || f.Length <= 0 {
		return 0
	}
	return (f.Length + f.ChunkSize - 1) / f.ChunkSize
}

// Summary is the JSON shape returned to upload callers
type Summary struct {
	*FileRecord
	ChunkCount int64 `json:"chunkCount"`
}

// Summarize wraps the record with its derived chunk count
func (f *FileRecord) Summarize() Summary {
	return Summary{FileRecord: f, ChunkCount: f.ChunkCount()}
}

// Chunk represents one stored slice of a file
type Chunk struct {
	FileID string
	Index  int64
	Data   []byte
}

// MediaRecord is the view-counted media entry that references a file.
// Only the counter is owned here; title, genre and the rest live elsewhere.
type MediaRecord struct {
	ID        string    `json:"mediaId"`
	FileID    string    `json:"fileId"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"createdAt"`
}
