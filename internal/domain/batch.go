package domain

import "time"

// BatchState represents the lifecycle state of a batch upload.
// Values include BatchStateCollecting, BatchStateProcessing, and
// BatchStateCompleted.
type BatchState string

const (
	// BatchStateCollecting means the batch is open and still receiving files.
	BatchStateCollecting BatchState = "collecting"
	// BatchStateProcessing means the upload finished and workers are advancing items.
	BatchStateProcessing BatchState = "processing"
	// BatchStateCompleted means every child item reached a terminal state.
	BatchStateCompleted BatchState = "completed"
)

// BatchUpload represents one logical upload batch. It exclusively owns its
// IngestionItems; archiving a batch archives its items.
type BatchUpload struct {
	ID            string `gorm:"type:text;primaryKey" json:"id"`
	CollectionID  uint   `gorm:"not null;index:idx_batches_collection" json:"collection_id"`
	BrandID       *uint  `json:"brand_id,omitempty"`
	DeclaredCount int    `gorm:"default:0" json:"declared_count"`

	State           BatchState `gorm:"type:text;index:idx_batches_state;default:collecting" json:"state"`
	CancelRequested bool       `gorm:"default:false" json:"cancel_requested"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for BatchUpload.
func (BatchUpload) TableName() string {
	return "batch_uploads"
}

// ItemCounts aggregates child item states for one batch.
type ItemCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

// Total returns the sum of all counts.
func (c ItemCounts) Total() int64 {
	return c.Pending + c.Processing + c.Done + c.Failed
}

// AllTerminal reports whether every item is done or failed.
func (c ItemCounts) AllTerminal() bool {
	return c.Pending == 0 && c.Processing == 0
}

// BatchStatus is the non-blocking progress view returned to pollers.
// Failed is first-class: a batch with failures is never reported as fully
// successful.
type BatchStatus struct {
	BatchID         string     `json:"batch_id"`
	State           BatchState `json:"state"`
	CancelRequested bool       `json:"cancel_requested"`
	Counts          ItemCounts `json:"counts"`
	// Rate is terminal items per second since processing started.
	Rate float64 `json:"rate"`
	// ETASeconds estimates time to completion; 0 when unknown or finished.
	ETASeconds float64 `json:"eta_seconds"`
}
