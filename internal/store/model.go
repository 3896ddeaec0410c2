package store

import (
	"time"
)

// Queue item lifecycle. An item leaves pending exactly once per drain pass and
// ends in done or error; the reaper is the only component allowed to move it
// back from processing to pending.
const (
	ItemStatusPending    = "pending"
	ItemStatusProcessing = "processing"
	ItemStatusDone       = "done"
	ItemStatusError      = "error"
)

const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusPaused    = "paused"
	BatchStatusCancelled = "cancelled"
	BatchStatusCompleted = "completed"
)

const (
	RecordStatusPublished = "published"
	RecordStatusError     = "error"
	RecordStatusDeleted   = "deleted"
)

// Listing is a land-plot record as read from the listing catalogue.
type Listing struct {
	ID              int64
	Title           string
	CadastralNumber string
	AreaSqM         float64
	Price           int64
	Location        string
	District        string
	HasElectricity  bool
	HasGas          bool
	HasWater        bool
	ImageURL        *string
	MapImageURL     *string
	Active          bool
	HiddenGroup     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QueueItem is one scheduled publication of one listing.
type QueueItem struct {
	ID           int64
	BatchID      string
	ListingID    int64
	Status       string
	AttemptCount int
	ErrorMessage *string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Batch groups queue items into one export run with progress counters.
// Invariant after every committed pass: ProcessedCount = SuccessCount +
// ErrorCount and ProcessedCount <= TotalCount.
type Batch struct {
	ID             string
	Platform       string
	Status         string
	TotalCount     int
	ProcessedCount int
	SuccessCount   int
	ErrorCount     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublishRecord is durable evidence of a publish attempt for a
// (platform, listing) pair. Logically keyed by that pair, most-recent-wins.
type PublishRecord struct {
	ID             int64
	Platform       string
	ListingID      int64
	ExternalPostID string
	ExternalURL    string
	Status         string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Selection describes which listings an export covers.
type Selection struct {
	Districts []string
	// MaxCount caps the number of listings; zero or IncludeAll means no cap.
	MaxCount   int
	IncludeAll bool
}
