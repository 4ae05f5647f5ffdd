package model

import (
	"time"

	"pantry-api/internal/availability"
	"pantry-api/internal/freshness"
)

// InventoryItem is one user's holding of one ingredient. An item is active
// while DeletedAt is nil; soft-deleted items stay in the store as sync
// tombstones.
type InventoryItem struct {
	UserID       string                  `json:"user_id"`
	IngredientID string                  `json:"ingredient_id"`
	Name         string                  `json:"name"`
	Quantity     float64                 `json:"quantity"`
	Unit         string                  `json:"unit"`
	ExpiresAt    *time.Time              `json:"expires_at,omitempty"`
	Location     freshness.Location      `json:"location"`
	Confidence   availability.Confidence `json:"confidence"`
	NeedsSync    bool                    `json:"needs_sync"`
	DeletedAt    *time.Time              `json:"deleted_at,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Active reports whether the item has not been soft-deleted.
func (i *InventoryItem) Active() bool {
	return i.DeletedAt == nil
}

// AddInput describes one addition event. Quantity is summed into an
// existing active item; every other field overwrites.
type AddInput struct {
	UserID       string
	IngredientID string
	Quantity     float64
	Unit         string
	ExpiresAt    *time.Time
	Location     string // empty keeps the current or ingredient default location
	Origin       availability.Origin
}

// UpdateInput edits an active item in place. Nil fields are left alone.
type UpdateInput struct {
	Quantity    *float64
	Unit        *string
	ExpiresAt   *time.Time
	ClearExpiry bool
	Location    *string
}

// SyncAck confirms that the remote sync service stored an item as of UpdatedAt.
type SyncAck struct {
	IngredientID string    `json:"ingredient_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}
