package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ItemState represents the processing state of an ingestion item.
// Items advance received -> matching -> thumbnailing -> done; failed is a
// parallel terminal state, and the watchdog may reset a stalled item back
// to received.
type ItemState string

const (
	ItemStateReceived     ItemState = "received"
	ItemStateMatching     ItemState = "matching"
	ItemStateThumbnailing ItemState = "thumbnailing"
	ItemStateDone         ItemState = "done"
	ItemStateFailed       ItemState = "failed"
)

// Terminal reports whether the state is final.
func (s ItemState) Terminal() bool {
	return s == ItemStateDone || s == ItemStateFailed
}

// CanTransition validates a state machine edge.
// Parameters:
//   - to: target state.
// Returns:
//   - error: nil if the edge is allowed, *InvalidTransitionError otherwise.
func (s ItemState) CanTransition(to ItemState) error {
	allowed := false
	switch s {
	case ItemStateReceived:
		allowed = to == ItemStateMatching || to == ItemStateFailed
	case ItemStateMatching:
		// Watchdog may push a stalled item back to received.
		allowed = to == ItemStateThumbnailing || to == ItemStateFailed || to == ItemStateReceived
	case ItemStateThumbnailing:
		allowed = to == ItemStateDone || to == ItemStateFailed || to == ItemStateReceived
	case ItemStateDone, ItemStateFailed:
		// Explicit reprocessing re-enters the pipeline without re-upload.
		allowed = to == ItemStateMatching || to == ItemStateThumbnailing
	}
	if !allowed {
		return &InvalidTransitionError{From: s, To: to}
	}
	return nil
}

// StringArray stores a string slice as JSON text in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// IngestionItem represents one uploaded file inside a batch and its
// progress through the pipeline. Purchase-order-derived fields (Order*)
// and AI-derived fields (AI*) are disjoint and retained independently.
type IngestionItem struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	BatchID string `gorm:"type:text;not null;index:idx_items_batch" json:"batch_id"`

	OriginalFilename string `gorm:"type:text;not null" json:"original_filename"`
	ContentHash      string `gorm:"type:text;index:idx_items_hash" json:"content_hash"`
	StorageKey       string `gorm:"type:text" json:"storage_key"`
	ThumbnailKey     string `gorm:"type:text" json:"thumbnail_key"`
	FileSize         int64  `json:"file_size"`
	Format           string `json:"format"`

	SKU      string `gorm:"type:text;index:idx_items_sku" json:"sku"`
	BaseSKU  string `gorm:"type:text" json:"base_sku"`
	Sequence string `gorm:"type:text" json:"sequence"`

	// Match result. OrderLineID is nil when no purchase-order line matched,
	// which is still a successful outcome.
	OrderLineID      *uint  `gorm:"index:idx_items_order_line" json:"order_line_id,omitempty"`
	OrderDescription string `gorm:"type:text" json:"order_description,omitempty"`
	OrderColor       string `gorm:"type:text" json:"order_color,omitempty"`
	OrderCategory    string `gorm:"type:text" json:"order_category,omitempty"`

	// AI analysis results, filled only by the explicit analyze operation.
	AIDescription string      `gorm:"type:text" json:"ai_description,omitempty"`
	AITags        StringArray `gorm:"type:text" json:"ai_tags,omitempty"`
	AIItemType    string      `gorm:"type:text" json:"ai_item_type,omitempty"`
	AIColor       string      `gorm:"type:text" json:"ai_color,omitempty"`
	AIMaterial    string      `gorm:"type:text" json:"ai_material,omitempty"`

	State      ItemState `gorm:"type:text;index:idx_items_state;default:received" json:"state"`
	LastError  string    `gorm:"type:text" json:"last_error,omitempty"`
	RetryCount int       `gorm:"default:0" json:"retry_count"`
	MaxRetries int       `gorm:"default:3" json:"max_retries"`

	// ClaimedAt is set when a worker takes the item and is what the
	// watchdog inspects for staleness.
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestionItem.
func (IngestionItem) TableName() string {
	return "batch_items"
}

// Matched reports whether the item matched a purchase-order line.
func (i *IngestionItem) Matched() bool {
	return i.OrderLineID != nil
}

// RetriesExhausted reports whether the retry budget is spent.
func (i *IngestionItem) RetriesExhausted() bool {
	return i.RetryCount >= i.MaxRetries
}
