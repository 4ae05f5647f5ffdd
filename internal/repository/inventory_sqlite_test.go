package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pantry-api/internal/availability"
	"pantry-api/internal/freshness"
	"pantry-api/internal/model"
	"pantry-api/internal/schema"
	"pantry-api/internal/seed"
	"pantry-api/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRepo(t *testing.T) (*SQLiteInventoryRepository, *store.Gateway, *clock) {
	t.Helper()
	ctx := context.Background()

	gw, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	reg, err := schema.DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := schema.EnsureSchema(ctx, gw, reg); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	catalog, err := seed.DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seed.Apply(ctx, gw, reg, catalog); err != nil {
		t.Fatalf("apply seeds: %v", err)
	}

	c := &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	return NewSQLiteInventoryRepository(gw, c.Now), gw, c
}

func add(t *testing.T, r *SQLiteInventoryRepository, ingredient string, qty float64, origin availability.Origin) *model.InventoryItem {
	t.Helper()
	item, err := r.Add(context.Background(), model.AddInput{
		UserID: "u1", IngredientID: ingredient, Quantity: qty, Origin: origin,
	})
	if err != nil {
		t.Fatalf("add %s: %v", ingredient, err)
	}
	return item
}

func TestAddCreatesWithInitialConfidence(t *testing.T) {
	r, _, _ := newTestRepo(t)

	item := add(t, r, "milk", 1, availability.Purchase)
	if item.Confidence != availability.Medium {
		t.Errorf("confidence = %v, want medium", item.Confidence)
	}
	if item.Location != freshness.LocationDairy {
		t.Errorf("location = %v, want ingredient default dairy", item.Location)
	}
	if item.Name != "Milk" || !item.NeedsSync || !item.Active() {
		t.Errorf("item = %+v", item)
	}
}

func TestRepeatAddSumsQuantityAndRaisesConfidence(t *testing.T) {
	r, _, c := newTestRepo(t)
	ctx := context.Background()

	add(t, r, "rice", 500, availability.Manual)
	c.Advance(time.Hour)
	expiry := c.Now().AddDate(0, 6, 0)
	item, err := r.Add(ctx, model.AddInput{
		UserID: "u1", IngredientID: "rice", Quantity: 250, Unit: "g",
		ExpiresAt: &expiry, Location: "Pantry", Origin: availability.Purchase,
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.Quantity != 750 {
		t.Errorf("quantity = %v, want 750", item.Quantity)
	}
	if item.Confidence != availability.Medium {
		t.Errorf("confidence = %v, want medium", item.Confidence)
	}
	if item.Unit != "g" || item.ExpiresAt == nil || !item.ExpiresAt.Equal(expiry.Truncate(time.Millisecond)) {
		t.Errorf("fields not overwritten: %+v", item)
	}
	if !item.UpdatedAt.Equal(c.Now()) {
		t.Errorf("updated_at = %v, want %v", item.UpdatedAt, c.Now())
	}
}

func TestConfidenceLifecycle(t *testing.T) {
	r, _, c := newTestRepo(t)

	steps := []struct {
		origin availability.Origin
		wait   time.Duration
		want   availability.Confidence
	}{
		{availability.Manual, 0, availability.Low},
		{availability.Purchase, time.Hour, availability.Medium},
		{availability.Purchase, time.Hour, availability.High},
		{availability.Manual, 31 * 24 * time.Hour, availability.Medium},
	}
	for i, s := range steps {
		c.Advance(s.wait)
		item := add(t, r, "eggs", 1, s.origin)
		if item.Confidence != s.want {
			t.Fatalf("step %d: confidence = %v, want %v", i, item.Confidence, s.want)
		}
	}
}

func TestSoftDeleteAndRevive(t *testing.T) {
	r, _, c := newTestRepo(t)
	ctx := context.Background()

	add(t, r, "butter", 2, availability.RepeatPurchase)
	add(t, r, "butter", 2, availability.RepeatPurchase)

	c.Advance(time.Minute)
	if err := r.SoftDelete(ctx, "u1", "butter"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := r.Get(ctx, "u1", "butter"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("get after delete: err = %v", err)
	}
	if err := r.SoftDelete(ctx, "u1", "butter"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("second delete: err = %v", err)
	}

	items, err := r.ListActive(ctx, "u1")
	if err != nil || len(items) != 0 {
		t.Fatalf("active = %v, %v", items, err)
	}

	revived := add(t, r, "butter", 1, availability.Manual)
	if revived.Quantity != 1 {
		t.Errorf("revived quantity = %v, want reset to 1", revived.Quantity)
	}
	if revived.Confidence != availability.Low {
		t.Errorf("revived confidence = %v, want initial(manual) = low", revived.Confidence)
	}
}

func TestAddRejectsUnknownIngredientAndBadQuantity(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.Add(ctx, model.AddInput{UserID: "u1", IngredientID: "unobtainium", Quantity: 1})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("unknown ingredient: err = %v", err)
	}
	_, err = r.Add(ctx, model.AddInput{UserID: "u1", IngredientID: "salt", Quantity: -1})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("negative quantity: err = %v", err)
	}
	_, err = r.Add(ctx, model.AddInput{UserID: "", IngredientID: "salt", Quantity: 1})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("empty user: err = %v", err)
	}
}

func TestUpdateEditsInPlace(t *testing.T) {
	r, _, c := newTestRepo(t)
	ctx := context.Background()

	expiry := c.Now().AddDate(0, 0, 5)
	if _, err := r.Add(ctx, model.AddInput{UserID: "u1", IngredientID: "salmon", Quantity: 2, ExpiresAt: &expiry, Origin: availability.RepeatPurchase}); err != nil {
		t.Fatal(err)
	}

	c.Advance(40 * 24 * time.Hour)
	qty := 1.5
	loc := "freezer"
	item, err := r.Update(ctx, "u1", "salmon", model.UpdateInput{Quantity: &qty, Location: &loc, ClearExpiry: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if item.Quantity != 1.5 || item.Location != freshness.LocationFreezer || item.ExpiresAt != nil {
		t.Errorf("item = %+v", item)
	}
	if item.Confidence != availability.Medium {
		t.Errorf("confidence = %v, want accrued decay to medium", item.Confidence)
	}

	if _, err := r.Update(ctx, "u1", "rice", model.UpdateInput{Quantity: &qty}); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("update absent: err = %v", err)
	}
}

func TestConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	r, _, _ := newTestRepo(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Add(context.Background(), model.AddInput{UserID: "u1", IngredientID: "flour", Quantity: 1}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	item, err := r.Get(context.Background(), "u1", "flour")
	if err != nil {
		t.Fatal(err)
	}
	if item.Quantity != n {
		t.Fatalf("quantity = %v, want %d", item.Quantity, n)
	}
}

func TestRecipeRequirements(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	add(t, r, "eggs", 6, availability.RepeatPurchase)
	add(t, r, "salt", 1, availability.Manual)

	lines, err := r.RecipeRequirements(ctx, "u1", "omelette")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"eggs", "parmesan", "butter", "salt"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %d, want %d", len(lines), len(want))
	}
	for i, id := range want {
		if lines[i].IngredientID != id {
			t.Fatalf("line %d = %s, want %s", i, lines[i].IngredientID, id)
		}
	}
	if lines[0].Confidence == nil || *lines[0].Confidence != "high" || lines[0].Role != "base" {
		t.Errorf("eggs line = %+v", lines[0])
	}
	if lines[1].Confidence != nil {
		t.Errorf("parmesan should be absent, got %v", *lines[1].Confidence)
	}

	// Other users' inventory does not leak in.
	other, err := r.RecipeRequirements(ctx, "u2", "omelette")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range other {
		if l.Confidence != nil {
			t.Fatalf("u2 sees %s", l.IngredientID)
		}
	}

	if _, err := r.RecipeRequirements(ctx, "u1", "beef-wellington"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("unknown recipe: err = %v", err)
	}
}

func TestPendingSyncAndAck(t *testing.T) {
	r, _, c := newTestRepo(t)
	ctx := context.Background()

	add(t, r, "onion", 3, availability.Manual)
	c.Advance(time.Second)
	add(t, r, "garlic", 1, availability.Manual)
	c.Advance(time.Second)
	if err := r.SoftDelete(ctx, "u1", "onion"); err != nil {
		t.Fatal(err)
	}

	pending, err := r.PendingSync(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].IngredientID != "garlic" || pending[1].IngredientID != "onion" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[1].DeletedAt == nil {
		t.Fatal("tombstone missing deleted_at")
	}

	// garlic changes after the sync service read it; its stale ack is ignored.
	staleGarlic := pending[0].UpdatedAt
	c.Advance(time.Second)
	add(t, r, "garlic", 1, availability.Manual)

	n, err := r.MarkSynced(ctx, "u1", []model.SyncAck{
		{IngredientID: "garlic", UpdatedAt: staleGarlic},
		{IngredientID: "onion", UpdatedAt: pending[1].UpdatedAt},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleared = %d, want 1", n)
	}
	pending, _ = r.PendingSync(ctx, "u1", 10)
	if len(pending) != 1 || pending[0].IngredientID != "garlic" {
		t.Fatalf("pending after ack = %+v", pending)
	}
}

func TestApplyDecayKeepsUpdatedAt(t *testing.T) {
	r, _, c := newTestRepo(t)
	ctx := context.Background()

	before := add(t, r, "parmesan", 1, availability.RepeatPurchase)
	add(t, r, "lemon", 1, availability.Purchase)

	n, err := r.ApplyDecay(ctx, c.Now().Add(10*24*time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("early decay = %d, %v", n, err)
	}

	n, err = r.ApplyDecay(ctx, c.Now().Add(30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("decayed = %d, want 1 (parmesan high->medium)", n)
	}
	after, err := r.Get(ctx, "u1", "parmesan")
	if err != nil {
		t.Fatal(err)
	}
	if after.Confidence != availability.Medium {
		t.Errorf("confidence = %v, want medium", after.Confidence)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("updated_at moved from %v to %v", before.UpdatedAt, after.UpdatedAt)
	}

	n, _ = r.ApplyDecay(ctx, c.Now().Add(61*24*time.Hour))
	if n != 2 {
		t.Fatalf("second sweep decayed %d, want 2", n)
	}
}

func TestListActiveSkipsOrphans(t *testing.T) {
	r, gw, c := newTestRepo(t)
	ctx := context.Background()

	add(t, r, "tomato", 2, availability.Manual)
	now := c.Now().UnixMilli()
	if _, err := gw.Run(ctx, `INSERT INTO inventory_items (user_id, ingredient_id, created_at, updated_at) VALUES ('u1', 'ghost', ?, ?)`, now, now); err != nil {
		t.Fatal(err)
	}

	items, err := r.ListActive(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].IngredientID != "tomato" {
		t.Fatalf("items = %+v", items)
	}
}

func TestGetStats(t *testing.T) {
	r, _, _ := newTestRepo(t)
	add(t, r, "salt", 1, availability.Manual)

	stats, err := r.GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats["active_items"].(int64) != 1 || stats["pending_sync"].(int64) != 1 {
		t.Fatalf("stats = %v", stats)
	}
	counts := stats["row_counts"].(map[string]int64)
	if counts["recipes"] != 3 {
		t.Fatalf("recipes = %d", counts["recipes"])
	}
}
