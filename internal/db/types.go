package db

import "time"

// DefaultContentType is stored when a video input does not name one.
const DefaultContentType = "video/mp4"

// VideoInput is the data needed to store a rendered video
type VideoInput struct {
	Filename    string
	RunID       string
	Data        []byte
	ContentType string
}

// Video is a stored video row including its bytes
type Video struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	RunID       string    `json:"run_id,omitempty"`
	Data        []byte    `json:"-"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// VideoSummary is a lightweight view of a stored video for listing
type VideoSummary struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	RunID       string    `json:"run_id,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}
