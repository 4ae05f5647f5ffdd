package repository

import (
	"context"
	"time"

	"pantry-api/internal/model"
)

// InventoryRepository defines inventory data access methods.
type InventoryRepository interface {
	// Add records an addition event and returns the resulting item.
	Add(ctx context.Context, in model.AddInput) (*model.InventoryItem, error)

	// Update edits an active item in place.
	Update(ctx context.Context, userID, ingredientID string, in model.UpdateInput) (*model.InventoryItem, error)

	// SoftDelete marks an active item deleted.
	SoftDelete(ctx context.Context, userID, ingredientID string) error

	// Get returns an active item or an error matching store.ErrRecordNotFound.
	Get(ctx context.Context, userID, ingredientID string) (*model.InventoryItem, error)

	// ListActive returns every active item for the user.
	ListActive(ctx context.Context, userID string) ([]model.InventoryItem, error)

	// RecipeRequirements returns a recipe's ingredient lines joined with the user's inventory.
	RecipeRequirements(ctx context.Context, userID, recipeID string) ([]model.RecipeLine, error)

	// PendingSync returns items, including tombstones, flagged for the sync service.
	PendingSync(ctx context.Context, userID string, limit int) ([]model.InventoryItem, error)

	// MarkSynced clears needs_sync on items whose updated_at still matches the ack.
	MarkSynced(ctx context.Context, userID string, acks []model.SyncAck) (int64, error)

	// ApplyDecay persists time decay onto stored confidences without touching updated_at.
	ApplyDecay(ctx context.Context, now time.Time) (int64, error)

	// GetStats returns statistics about the inventory database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}
