package domain

import "time"

// PurchaseOrderLine is one row of the purchase-order index: a planned
// product awaiting photography, scoped to a collection. The pipeline reads
// it during matching and only ever writes the HasPhoto flag.
type PurchaseOrderLine struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	CollectionID uint   `gorm:"not null;index:idx_order_lines_lookup,unique" json:"collection_id"`
	SKU          string `gorm:"type:text;not null;index:idx_order_lines_lookup,unique" json:"sku"`

	Description string `gorm:"type:text" json:"description"`
	Color       string `gorm:"type:text" json:"color"`
	Category    string `gorm:"type:text" json:"category"`
	Subcategory string `gorm:"type:text" json:"subcategory"`
	Material    string `gorm:"type:text" json:"material"`

	// HasPhoto is set (at-least-once, idempotently) when any image matches
	// this line.
	HasPhoto bool `gorm:"default:false;index:idx_order_lines_has_photo" json:"has_photo"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for PurchaseOrderLine.
func (PurchaseOrderLine) TableName() string {
	return "purchase_order_lines"
}
