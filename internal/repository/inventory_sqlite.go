package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"pantry-api/internal/availability"
	"pantry-api/internal/freshness"
	"pantry-api/internal/model"
	"pantry-api/internal/store"
)

const selectItem = `
	SELECT i.user_id, i.ingredient_id, g.name AS name, i.quantity, i.unit, i.expires_at,
	       i.location, i.confidence, i.needs_sync, i.deleted_at, i.created_at, i.updated_at
	FROM inventory_items i
	LEFT JOIN ingredients g ON g.id = i.ingredient_id`

type itemRow struct {
	UserID       string         `db:"user_id"`
	IngredientID string         `db:"ingredient_id"`
	Name         sql.NullString `db:"name"`
	Quantity     float64        `db:"quantity"`
	Unit         string         `db:"unit"`
	ExpiresAt    sql.NullInt64  `db:"expires_at"`
	Location     string         `db:"location"`
	Confidence   string         `db:"confidence"`
	NeedsSync    bool           `db:"needs_sync"`
	DeletedAt    sql.NullInt64  `db:"deleted_at"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

// toModel converts a stored row. orphan is set when the ingredient is no
// longer in the catalog; the item then carries its ID as its name.
func (r itemRow) toModel() (item model.InventoryItem, orphan bool) {
	item = model.InventoryItem{
		UserID:       r.UserID,
		IngredientID: r.IngredientID,
		Name:         r.Name.String,
		Quantity:     r.Quantity,
		Unit:         r.Unit,
		ExpiresAt:    fromMillis(r.ExpiresAt),
		Location:     freshness.ParseLocation(r.Location),
		Confidence:   availability.ParseConfidence(r.Confidence),
		NeedsSync:    r.NeedsSync,
		DeletedAt:    fromMillis(r.DeletedAt),
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if !r.Name.Valid {
		item.Name = r.IngredientID
		orphan = true
	}
	return item, orphan
}

type lineRow struct {
	RecipeID     string         `db:"recipe_id"`
	IngredientID string         `db:"ingredient_id"`
	Name         string         `db:"name"`
	Role         string         `db:"role"`
	Confidence   sql.NullString `db:"confidence"`
	UpdatedAt    sql.NullInt64  `db:"updated_at"`
}

type decayRow struct {
	UserID       string `db:"user_id"`
	IngredientID string `db:"ingredient_id"`
	Confidence   string `db:"confidence"`
	UpdatedAt    int64  `db:"updated_at"`
}

// SQLiteInventoryRepository implements InventoryRepository on the store
// gateway. Mutations of one (user, ingredient) key are serialised by a keyed
// mutex and each runs in a single transaction.
type SQLiteInventoryRepository struct {
	gw    *store.Gateway
	locks *store.KeyedMutex
	now   func() time.Time
}

// NewSQLiteInventoryRepository creates a repository. A nil clock means time.Now.
func NewSQLiteInventoryRepository(gw *store.Gateway, clock func() time.Time) *SQLiteInventoryRepository {
	if clock == nil {
		clock = time.Now
	}
	log.Printf("[SQLiteInventoryRepository] Initialized")
	return &SQLiteInventoryRepository{gw: gw, locks: store.NewKeyedMutex(), now: clock}
}

// Add records an addition. A new item takes its confidence from the origin; a
// repeat addition sums quantity and resolves confidence from the stored value;
// a soft-deleted item is revived with the new quantity and a fresh confidence.
func (r *SQLiteInventoryRepository) Add(ctx context.Context, in model.AddInput) (*model.InventoryItem, error) {
	const op = "repository.Add"
	if err := validateKey(op, in.UserID, in.IngredientID); err != nil {
		return nil, err
	}
	if in.Quantity < 0 || math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) {
		return nil, store.E(store.KindInvalidArgument, op, fmt.Errorf("quantity must be a non-negative number"))
	}

	unlock := r.locks.Lock(lockKey(in.UserID, in.IngredientID))
	defer unlock()

	now := r.now()
	err := r.gw.WithTx(ctx, func(tx *store.Tx) error {
		defLoc, err := store.QueryFirst[string](ctx, tx, `SELECT default_location FROM ingredients WHERE id = ?`, in.IngredientID)
		if err != nil {
			return err
		}
		if defLoc == nil {
			return store.E(store.KindInvalidArgument, op, fmt.Errorf("unknown ingredient %q", in.IngredientID))
		}

		cur, err := store.QueryFirst[itemRow](ctx, tx, selectItem+` WHERE i.user_id = ? AND i.ingredient_id = ?`, in.UserID, in.IngredientID)
		if err != nil {
			return err
		}

		params := map[string]any{
			"user_id":       in.UserID,
			"ingredient_id": in.IngredientID,
			"quantity":      in.Quantity,
			"expires_at":    toMillis(in.ExpiresAt),
			"now":           now.UnixMilli(),
		}

		switch {
		case cur == nil:
			params["unit"] = in.Unit
			params["location"] = pickLocation(in.Location, *defLoc)
			params["confidence"] = availability.Resolve(availability.Input{Current: availability.None, Origin: in.Origin}).String()
			_, err = tx.Run(ctx, `
				INSERT INTO inventory_items
					(user_id, ingredient_id, quantity, unit, expires_at, location, confidence, needs_sync, deleted_at, created_at, updated_at)
				VALUES
					(:user_id, :ingredient_id, :quantity, :unit, :expires_at, :location, :confidence, 1, NULL, :now, :now)`, params)

		case cur.DeletedAt.Valid:
			params["unit"] = in.Unit
			params["location"] = pickLocation(in.Location, *defLoc)
			params["confidence"] = availability.Initial(in.Origin).String()
			_, err = tx.Run(ctx, `
				UPDATE inventory_items SET
					quantity = :quantity, unit = :unit, expires_at = :expires_at, location = :location,
					confidence = :confidence, needs_sync = 1, deleted_at = NULL, updated_at = :now
				WHERE user_id = :user_id AND ingredient_id = :ingredient_id`, params)

		default:
			params["unit"] = pickString(in.Unit, cur.Unit)
			params["location"] = pickLocation(in.Location, cur.Location)
			params["confidence"] = availability.Resolve(availability.Input{
				Current:         availability.ParseConfidence(cur.Confidence),
				Origin:          in.Origin,
				DaysSinceUpdate: availability.DaysSince(time.UnixMilli(cur.UpdatedAt), now),
			}).String()
			_, err = tx.Run(ctx, `
				UPDATE inventory_items SET
					quantity = quantity + :quantity, unit = :unit, expires_at = :expires_at, location = :location,
					confidence = :confidence, needs_sync = 1, updated_at = :now
				WHERE user_id = :user_id AND ingredient_id = :ingredient_id`, params)
		}
		if err != nil {
			return fmt.Errorf("failed to add inventory item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, in.UserID, in.IngredientID)
}

// Update edits an active item. Decay accrued so far is folded into the stored
// confidence before updated_at moves, so an edit never restores lost trust.
func (r *SQLiteInventoryRepository) Update(ctx context.Context, userID, ingredientID string, in model.UpdateInput) (*model.InventoryItem, error) {
	const op = "repository.Update"
	if err := validateKey(op, userID, ingredientID); err != nil {
		return nil, err
	}
	if in.Quantity != nil && (*in.Quantity < 0 || math.IsNaN(*in.Quantity) || math.IsInf(*in.Quantity, 0)) {
		return nil, store.E(store.KindInvalidArgument, op, fmt.Errorf("quantity must be a non-negative number"))
	}

	unlock := r.locks.Lock(lockKey(userID, ingredientID))
	defer unlock()

	now := r.now()
	err := r.gw.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := store.QueryFirst[itemRow](ctx, tx,
			selectItem+` WHERE i.user_id = ? AND i.ingredient_id = ? AND i.deleted_at IS NULL`, userID, ingredientID)
		if err != nil {
			return err
		}
		if cur == nil {
			return store.E(store.KindRecordNotFound, op, fmt.Errorf("%s/%s", userID, ingredientID))
		}

		decayed := availability.DecayByTime(availability.ParseConfidence(cur.Confidence),
			availability.DaysSince(time.UnixMilli(cur.UpdatedAt), now))

		sets := []string{"confidence = :confidence", "needs_sync = 1", "updated_at = :now"}
		params := map[string]any{
			"user_id":       userID,
			"ingredient_id": ingredientID,
			"confidence":    decayed.String(),
			"now":           now.UnixMilli(),
		}
		if in.Quantity != nil {
			sets = append(sets, "quantity = :quantity")
			params["quantity"] = *in.Quantity
		}
		if in.Unit != nil {
			sets = append(sets, "unit = :unit")
			params["unit"] = *in.Unit
		}
		switch {
		case in.ClearExpiry:
			sets = append(sets, "expires_at = NULL")
		case in.ExpiresAt != nil:
			sets = append(sets, "expires_at = :expires_at")
			params["expires_at"] = in.ExpiresAt.UnixMilli()
		}
		if in.Location != nil {
			sets = append(sets, "location = :location")
			params["location"] = freshness.ParseLocation(*in.Location).String()
		}

		_, err = tx.Run(ctx, `UPDATE inventory_items SET `+strings.Join(sets, ", ")+`
			WHERE user_id = :user_id AND ingredient_id = :ingredient_id`, params)
		if err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID, ingredientID)
}

// SoftDelete stamps deleted_at on an active item and flags it for sync.
func (r *SQLiteInventoryRepository) SoftDelete(ctx context.Context, userID, ingredientID string) error {
	const op = "repository.SoftDelete"
	if err := validateKey(op, userID, ingredientID); err != nil {
		return err
	}

	unlock := r.locks.Lock(lockKey(userID, ingredientID))
	defer unlock()

	now := r.now().UnixMilli()
	res, err := r.gw.Run(ctx, `
		UPDATE inventory_items SET deleted_at = ?, needs_sync = 1, updated_at = ?
		WHERE user_id = ? AND ingredient_id = ? AND deleted_at IS NULL`, now, now, userID, ingredientID)
	if err != nil {
		return fmt.Errorf("failed to delete inventory item: %w", err)
	}
	if res.RowsAffected == 0 {
		return store.E(store.KindRecordNotFound, op, fmt.Errorf("%s/%s", userID, ingredientID))
	}
	return nil
}

// Get returns one active item.
func (r *SQLiteInventoryRepository) Get(ctx context.Context, userID, ingredientID string) (*model.InventoryItem, error) {
	row, err := store.QueryFirst[itemRow](ctx, r.gw,
		selectItem+` WHERE i.user_id = ? AND i.ingredient_id = ? AND i.deleted_at IS NULL`, userID, ingredientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory item: %w", err)
	}
	if row == nil {
		return nil, store.E(store.KindRecordNotFound, "repository.Get", fmt.Errorf("%s/%s", userID, ingredientID))
	}
	item, _ := row.toModel()
	return &item, nil
}

// ListActive returns the user's active items. Items whose ingredient has
// left the catalog are logged and skipped.
func (r *SQLiteInventoryRepository) ListActive(ctx context.Context, userID string) ([]model.InventoryItem, error) {
	rows, err := store.QueryAll[itemRow](ctx, r.gw,
		selectItem+` WHERE i.user_id = ? AND i.deleted_at IS NULL ORDER BY i.ingredient_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}

	items := make([]model.InventoryItem, 0, len(rows))
	for _, row := range rows {
		item, orphan := row.toModel()
		if orphan {
			log.Printf("[SQLiteInventoryRepository] Skipping %s/%s: ingredient not in catalog", row.UserID, row.IngredientID)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// RecipeRequirements returns the recipe's lines in catalog order, each joined
// with the user's active item for that ingredient.
func (r *SQLiteInventoryRepository) RecipeRequirements(ctx context.Context, userID, recipeID string) ([]model.RecipeLine, error) {
	const op = "repository.RecipeRequirements"
	exists, err := store.QueryFirst[string](ctx, r.gw, `SELECT id FROM recipes WHERE id = ?`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipe: %w", err)
	}
	if exists == nil {
		return nil, store.E(store.KindRecordNotFound, op, fmt.Errorf("recipe %s", recipeID))
	}

	rows, err := store.QueryAll[lineRow](ctx, r.gw, `
		SELECT ri.recipe_id, ri.ingredient_id, COALESCE(g.name, ri.ingredient_id) AS name, ri.role,
		       i.confidence, i.updated_at
		FROM recipe_ingredients ri
		LEFT JOIN ingredients g ON g.id = ri.ingredient_id
		LEFT JOIN inventory_items i
		       ON i.ingredient_id = ri.ingredient_id AND i.user_id = :user_id AND i.deleted_at IS NULL
		WHERE ri.recipe_id = :recipe_id
		ORDER BY ri.rowid`, map[string]any{"user_id": userID, "recipe_id": recipeID})
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe requirements: %w", err)
	}

	lines := make([]model.RecipeLine, 0, len(rows))
	for _, row := range rows {
		line := model.RecipeLine{
			RecipeID:     row.RecipeID,
			IngredientID: row.IngredientID,
			Name:         row.Name,
			Role:         row.Role,
		}
		if row.Confidence.Valid {
			c := row.Confidence.String
			line.Confidence = &c
		}
		line.UpdatedAt = fromMillis(row.UpdatedAt)
		lines = append(lines, line)
	}
	return lines, nil
}

// PendingSync returns up to limit items flagged needs_sync, oldest change first.
func (r *SQLiteInventoryRepository) PendingSync(ctx context.Context, userID string, limit int) ([]model.InventoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := store.QueryAll[itemRow](ctx, r.gw,
		selectItem+` WHERE i.user_id = ? AND i.needs_sync = 1 ORDER BY i.updated_at, i.ingredient_id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sync: %w", err)
	}
	items := make([]model.InventoryItem, 0, len(rows))
	for _, row := range rows {
		item, _ := row.toModel()
		items = append(items, item)
	}
	return items, nil
}

// MarkSynced clears needs_sync for acknowledged items. An ack whose
// timestamp is older than the item's latest change is ignored so that edits
// made during a sync round are pushed again.
func (r *SQLiteInventoryRepository) MarkSynced(ctx context.Context, userID string, acks []model.SyncAck) (int64, error) {
	if len(acks) == 0 {
		return 0, nil
	}
	var cleared int64
	err := r.gw.WithTx(ctx, func(tx *store.Tx) error {
		for _, ack := range acks {
			res, err := tx.Run(ctx, `
				UPDATE inventory_items SET needs_sync = 0
				WHERE user_id = ? AND ingredient_id = ? AND updated_at = ? AND needs_sync = 1`,
				userID, ack.IngredientID, ack.UpdatedAt.UnixMilli())
			if err != nil {
				return err
			}
			cleared += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark items synced: %w", err)
	}
	return cleared, nil
}

// ApplyDecay steps down high and medium confidences that have been idle past
// their threshold. updated_at is left alone so the idle clock keeps running.
func (r *SQLiteInventoryRepository) ApplyDecay(ctx context.Context, now time.Time) (int64, error) {
	rows, err := store.QueryAll[decayRow](ctx, r.gw, `
		SELECT user_id, ingredient_id, confidence, updated_at
		FROM inventory_items
		WHERE deleted_at IS NULL AND confidence IN ('high', 'medium')`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for decay: %w", err)
	}

	type change struct {
		row decayRow
		to  availability.Confidence
	}
	var changes []change
	for _, row := range rows {
		cur := availability.ParseConfidence(row.Confidence)
		next := availability.DecayByTime(cur, availability.DaysSince(time.UnixMilli(row.UpdatedAt), now))
		if next != cur {
			changes = append(changes, change{row: row, to: next})
		}
	}
	if len(changes) == 0 {
		return 0, nil
	}

	var decayed int64
	err = r.gw.WithTx(ctx, func(tx *store.Tx) error {
		for _, c := range changes {
			// Guarded on the values read above; a concurrent add wins.
			res, err := tx.Run(ctx, `
				UPDATE inventory_items SET confidence = ?
				WHERE user_id = ? AND ingredient_id = ? AND updated_at = ? AND confidence = ? AND deleted_at IS NULL`,
				c.to.String(), c.row.UserID, c.row.IngredientID, c.row.UpdatedAt, c.row.Confidence)
			if err != nil {
				return err
			}
			decayed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist decay: %w", err)
	}
	return decayed, nil
}

// GetStats returns statistics about the inventory database.
func (r *SQLiteInventoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := r.gw.Stats(ctx, []string{"ingredients", "recipes", "recipe_ingredients", "inventory_items", "applied_seeds", "schema_migrations"})
	if err != nil {
		return nil, err
	}

	type counts struct {
		Users   int64 `db:"users"`
		Active  int64 `db:"active"`
		Deleted int64 `db:"deleted"`
		Pending int64 `db:"pending"`
	}
	c, err := store.QueryFirst[counts](ctx, r.gw, `
		SELECT COUNT(DISTINCT user_id) AS users,
		       COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0) AS active,
		       COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS deleted,
		       COALESCE(SUM(needs_sync), 0) AS pending
		FROM inventory_items`)
	if err != nil {
		return nil, err
	}
	if c != nil {
		stats["users"] = c.Users
		stats["active_items"] = c.Active
		stats["deleted_items"] = c.Deleted
		stats["pending_sync"] = c.Pending
	}
	return stats, nil
}

// Close closes the underlying gateway.
func (r *SQLiteInventoryRepository) Close() error {
	return r.gw.Close()
}

func validateKey(op, userID, ingredientID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(ingredientID) == "" {
		return store.E(store.KindInvalidArgument, op, errors.New("user and ingredient IDs are required"))
	}
	return nil
}

func lockKey(userID, ingredientID string) string {
	return userID + "\x00" + ingredientID
}

func pickLocation(requested, fallback string) string {
	if strings.TrimSpace(requested) == "" {
		return freshness.ParseLocation(fallback).String()
	}
	return freshness.ParseLocation(requested).String()
}

func pickString(requested, fallback string) string {
	if requested == "" {
		return fallback
	}
	return requested
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// Ensure SQLiteInventoryRepository implements InventoryRepository
var _ InventoryRepository = (*SQLiteInventoryRepository)(nil)
