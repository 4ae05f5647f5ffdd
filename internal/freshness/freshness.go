// Package freshness ranks inventory entries by how soon they need using and
// groups them by storage location in a deterministic order.
package freshness

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"pantry-api/internal/availability"
)

// UrgentWindowDays is the inclusive upper bound of the urgent expiry window [0, 3].
const UrgentWindowDays = 3

// Entry is one active inventory item as presented in a grouped listing.
type Entry struct {
	IngredientID    string                  `json:"ingredient_id"`
	Name            string                  `json:"name"`
	Location        Location                `json:"location"`
	Quantity        float64                 `json:"quantity"`
	Unit            string                  `json:"unit"`
	Confidence      availability.Confidence `json:"confidence"`
	NeedsSync       bool                    `json:"needs_sync"`
	ExpiresAt       *time.Time              `json:"expires_at,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
	DaysUntilExpiry *int                    `json:"days_until_expiry,omitempty"`
	PriorityScore   *int                    `json:"priority_score,omitempty"`
	Urgent          bool                    `json:"urgent"`
}

// Group is every entry stored in one location.
type Group struct {
	Location    Location `json:"location"`
	MinPriority *int     `json:"min_priority,omitempty"`
	Items       []Entry  `json:"items"`
}

// PriorityScore is location weight plus days to expiry; lower is more urgent.
func PriorityScore(loc Location, daysUntilExpiry int) int {
	return loc.Weight() + daysUntilExpiry
}

// DaysUntil counts calendar days from now's date to expiry's date, both taken
// in now's time zone. Already-expired items yield a negative count.
func DaysUntil(expiry, now time.Time) int {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := expiry.In(now.Location()).Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Rank partitions entries by location and orders everything:
//   - inside a group, urgent entries (expiry within [0, 3] days) come first by
//     ascending priority score, then the rest alphabetically;
//   - groups with urgent entries come first by their lowest score, then the
//     remaining groups, each tier broken by location name.
//
// Names compare with the collation rules of tag; ingredient IDs break any
// remaining tie so the order is total. The input slice is not modified.
func Rank(entries []Entry, now time.Time, tag language.Tag) []Group {
	col := collate.New(tag, collate.IgnoreCase)
	nameLess := func(a, b *Entry) bool {
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.IngredientID < b.IngredientID
	}

	byLocation := make(map[Location]*Group)
	for _, e := range entries {
		e.DaysUntilExpiry, e.PriorityScore, e.Urgent = nil, nil, false
		if e.ExpiresAt != nil {
			days := DaysUntil(*e.ExpiresAt, now)
			score := PriorityScore(e.Location, days)
			e.DaysUntilExpiry = &days
			e.PriorityScore = &score
			e.Urgent = days >= 0 && days <= UrgentWindowDays
		}
		g, ok := byLocation[e.Location]
		if !ok {
			g = &Group{Location: e.Location}
			byLocation[e.Location] = g
		}
		g.Items = append(g.Items, e)
	}

	groups := make([]Group, 0, len(byLocation))
	for _, g := range byLocation {
		items := g.Items
		sort.SliceStable(items, func(i, j int) bool {
			a, b := &items[i], &items[j]
			if a.Urgent != b.Urgent {
				return a.Urgent
			}
			if a.Urgent && *a.PriorityScore != *b.PriorityScore {
				return *a.PriorityScore < *b.PriorityScore
			}
			return nameLess(a, b)
		})
		for i := range items {
			if !items[i].Urgent {
				break
			}
			if g.MinPriority == nil || *items[i].PriorityScore < *g.MinPriority {
				score := *items[i].PriorityScore
				g.MinPriority = &score
			}
		}
		groups = append(groups, *g)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if (a.MinPriority != nil) != (b.MinPriority != nil) {
			return a.MinPriority != nil
		}
		if a.MinPriority != nil && *a.MinPriority != *b.MinPriority {
			return *a.MinPriority < *b.MinPriority
		}
		return a.Location.String() < b.Location.String()
	})
	return groups
}
