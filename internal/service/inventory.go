package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/text/language"

	"pantry-api/internal/availability"
	"pantry-api/internal/cache"
	"pantry-api/internal/feasibility"
	"pantry-api/internal/freshness"
	"pantry-api/internal/model"
	"pantry-api/internal/repository"
	"pantry-api/internal/store"
)

// listingKeyPrefix namespaces cached grouped listings; a user's keys share
// listingKeyPrefix + userID + ":".
const listingKeyPrefix = "inventory:"

// listingGenerations counts invalidations per user. A listing is cached under
// the generation read before the repository was queried, so a listing that
// raced a mutation lands on a key no later read asks for.
type listingGenerations struct {
	mu     sync.Mutex
	byUser map[string]uint64
}

func (g *listingGenerations) current(userID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byUser[userID]
}

func (g *listingGenerations) bump(userID string) {
	g.mu.Lock()
	g.byUser[userID]++
	g.mu.Unlock()
}

// Readiness blocks until the store has been initialized.
type Readiness interface {
	Wait(ctx context.Context) error
}

// InventoryOptions tunes an InventoryService. Zero values pick defaults.
type InventoryOptions struct {
	CacheTTL time.Duration
	Locale   language.Tag
	Clock    func() time.Time
}

// InventoryService handles inventory business logic. Every operation waits
// for store initialization before touching the repository.
type InventoryService struct {
	repo  repository.InventoryRepository
	ready Readiness
	cache cache.Cache
	ttl   time.Duration
	tag   language.Tag
	now   func() time.Time
	gens  *listingGenerations
}

// NewInventoryService creates a new inventory service.
// Returns nil if repo is nil (required dependency). A nil cache disables caching.
func NewInventoryService(repo repository.InventoryRepository, ready Readiness, c cache.Cache, opts InventoryOptions) *InventoryService {
	if repo == nil {
		return nil
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Locale == language.Und {
		opts.Locale = language.English
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &InventoryService{
		repo:  repo,
		ready: ready,
		cache: c,
		ttl:   opts.CacheTTL,
		tag:   opts.Locale,
		now:   opts.Clock,
		gens:  &listingGenerations{byUser: make(map[string]uint64)},
	}
}

func (s *InventoryService) wait(ctx context.Context, op string) error {
	if s.ready == nil {
		return nil
	}
	if err := s.ready.Wait(ctx); err != nil {
		return store.E(store.KindStoreUnavailable, op, err)
	}
	return nil
}

// AddItem records an addition event for one ingredient.
func (s *InventoryService) AddItem(ctx context.Context, in model.AddInput) (*model.InventoryItem, error) {
	if err := s.wait(ctx, "service.AddItem"); err != nil {
		return nil, err
	}
	item, err := s.repo.Add(ctx, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, in.UserID)
	log.Printf("[InventoryService] Added %s for %s (%s, confidence %s)", in.IngredientID, in.UserID, in.Origin, item.Confidence)
	return item, nil
}

// UpdateItem edits an active item in place.
func (s *InventoryService) UpdateItem(ctx context.Context, userID, ingredientID string, in model.UpdateInput) (*model.InventoryItem, error) {
	if err := s.wait(ctx, "service.UpdateItem"); err != nil {
		return nil, err
	}
	item, err := s.repo.Update(ctx, userID, ingredientID, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return item, nil
}

// RemoveItem soft-deletes an active item.
func (s *InventoryService) RemoveItem(ctx context.Context, userID, ingredientID string) error {
	if err := s.wait(ctx, "service.RemoveItem"); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, userID, ingredientID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// ListInventoryGrouped returns the user's active items grouped by location
// in freshness order. Listings are cached per user and calendar day.
func (s *InventoryService) ListInventoryGrouped(ctx context.Context, userID string) ([]freshness.Group, error) {
	if err := s.wait(ctx, "service.ListInventoryGrouped"); err != nil {
		return nil, err
	}
	now := s.now()

	if s.cache == nil {
		return s.groupInventory(ctx, userID, now)
	}

	key := fmt.Sprintf("%s%s:%d:%s", listingKeyPrefix, userID, s.gens.current(userID), now.Format("2006-01-02"))
	data, err := s.cache.GetOrSet(ctx, key, s.ttl, func() ([]byte, error) {
		groups, err := s.groupInventory(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		return json.Marshal(groups)
	})
	if err != nil {
		return nil, err
	}

	var groups []freshness.Group
	if err := json.Unmarshal(data, &groups); err != nil {
		log.Printf("[InventoryService] Discarding unreadable cached listing %s: %v", key, err)
		_ = s.cache.Delete(ctx, key)
		return s.groupInventory(ctx, userID, now)
	}
	return groups, nil
}

func (s *InventoryService) groupInventory(ctx context.Context, userID string, now time.Time) ([]freshness.Group, error) {
	items, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]freshness.Entry, 0, len(items))
	for _, item := range items {
		if item.Quantity < 0 {
			log.Printf("[InventoryService] Skipping %s/%s: negative quantity %v", userID, item.IngredientID, item.Quantity)
			continue
		}
		entries = append(entries, freshness.Entry{
			IngredientID: item.IngredientID,
			Name:         item.Name,
			Location:     item.Location,
			Quantity:     item.Quantity,
			Unit:         item.Unit,
			Confidence:   effectiveConfidence(item.Confidence, item.UpdatedAt, now),
			NeedsSync:    item.NeedsSync,
			ExpiresAt:    item.ExpiresAt,
			UpdatedAt:    item.UpdatedAt,
		})
	}
	return freshness.Rank(entries, now, s.tag), nil
}

// ResolveRecipeStatus judges whether the user can make the recipe right now.
func (s *InventoryService) ResolveRecipeStatus(ctx context.Context, userID, recipeID string) (*feasibility.RecipeVerdict, error) {
	if err := s.wait(ctx, "service.ResolveRecipeStatus"); err != nil {
		return nil, err
	}
	lines, err := s.repo.RecipeRequirements(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reqs := make([]feasibility.Requirement, 0, len(lines))
	for _, line := range lines {
		role := feasibility.ParseRole(line.Role)
		if role == feasibility.RoleUnknown {
			log.Printf("[InventoryService] Recipe %s lists %s with unrecognized role %q; requiring weight %d",
				recipeID, line.IngredientID, line.Role, role.RequiredWeight())
		}
		conf := availability.None
		if line.Confidence != nil {
			var updated time.Time
			if line.UpdatedAt != nil {
				updated = *line.UpdatedAt
			}
			conf = effectiveConfidence(availability.ParseConfidence(*line.Confidence), updated, now)
		}
		reqs = append(reqs, feasibility.Requirement{
			IngredientID: line.IngredientID,
			Name:         line.Name,
			Role:         role,
			Confidence:   conf,
		})
	}

	verdict := feasibility.ResolveRecipe(recipeID, reqs)
	return &verdict, nil
}

// PendingSync returns items the remote sync service has not yet acknowledged.
func (s *InventoryService) PendingSync(ctx context.Context, userID string, limit int) ([]model.InventoryItem, error) {
	if err := s.wait(ctx, "service.PendingSync"); err != nil {
		return nil, err
	}
	return s.repo.PendingSync(ctx, userID, limit)
}

// AcknowledgeSync clears needs_sync for items the sync service stored.
func (s *InventoryService) AcknowledgeSync(ctx context.Context, userID string, acks []model.SyncAck) (int64, error) {
	if err := s.wait(ctx, "service.AcknowledgeSync"); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkSynced(ctx, userID, acks)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, userID)
	}
	return n, nil
}

// Stats returns store statistics for the admin surface.
func (s *InventoryService) Stats(ctx context.Context) (map[string]interface{}, error) {
	if err := s.wait(ctx, "service.Stats"); err != nil {
		return nil, err
	}
	return s.repo.GetStats(ctx)
}

func (s *InventoryService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	s.gens.bump(userID)
	if _, err := s.cache.DeletePrefix(ctx, listingKeyPrefix+userID+":"); err != nil {
		log.Printf("[InventoryService] Failed to invalidate listings for %s: %v", userID, err)
	}
}

// effectiveConfidence applies time decay accrued since the last update on read.
func effectiveConfidence(stored availability.Confidence, updatedAt, now time.Time) availability.Confidence {
	return availability.DecayByTime(stored, availability.DaysSince(updatedAt, now))
}
