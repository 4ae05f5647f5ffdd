// Package availability estimates how likely an ingredient is to be on hand.
// The estimate is an ordinal confidence, never a stock count.
package availability

import (
	"strings"
	"time"
)

// Confidence is the ordinal availability estimate for an inventory item.
// The zero value, None, means the item has no inventory record at all.
type Confidence int

const (
	None Confidence = iota
	Low
	Medium
	High
)

// Decay thresholds, in whole days since the item was last updated.
const (
	HighDecayDays   = 30
	MediumDecayDays = 60
)

// ParseConfidence maps a stored value to a Confidence. Empty means None;
// any other unrecognised value falls back to Low.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return None
	case "high":
		return High
	case "medium":
		return Medium
	case "low":
		return Low
	default:
		return Low
	}
}

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return ""
	}
}

// Weight is the comparison weight: low=1, medium=2, high=3, none=0.
func (c Confidence) Weight() int {
	switch c {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// MarshalText stores a Confidence as its name.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (c *Confidence) UnmarshalText(b []byte) error {
	*c = ParseConfidence(string(b))
	return nil
}

// Origin is how an ingredient entered the inventory.
type Origin int

const (
	// Manual is a hand-entered addition, the lowest-trust origin.
	Manual Origin = iota
	Purchase
	RepeatPurchase
)

// ParseOrigin maps a wire value to an Origin. Unrecognised values fall back
// to Manual.
func ParseOrigin(s string) Origin {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "purchase":
		return Purchase
	case "repeat_purchase", "repeatpurchase", "repeat-purchase":
		return RepeatPurchase
	default:
		return Manual
	}
}

func (o Origin) String() string {
	switch o {
	case Purchase:
		return "purchase"
	case RepeatPurchase:
		return "repeat_purchase"
	default:
		return "manual"
	}
}

// IsPurchase reports whether o is one of the purchase variants.
func (o Origin) IsPurchase() bool {
	return o == Purchase || o == RepeatPurchase
}

// Initial is the confidence assigned when an item is first recorded.
func Initial(o Origin) Confidence {
	switch o {
	case Purchase:
		return Medium
	case RepeatPurchase:
		return High
	default:
		return Low
	}
}

// Increase moves one step up, saturating at High.
func Increase(c Confidence) Confidence {
	switch c {
	case High, Medium:
		return High
	case Low:
		return Medium
	default:
		return Low
	}
}

// DecayByTime moves one step down once the item has been idle long enough:
// High drops at 30 days, Medium at 60. Low is the floor.
func DecayByTime(c Confidence, daysSinceUpdate int) Confidence {
	switch {
	case c == High && daysSinceUpdate >= HighDecayDays:
		return Medium
	case c == Medium && daysSinceUpdate >= MediumDecayDays:
		return Low
	default:
		return c
	}
}

// Input is everything Resolve needs about one ingredient.
type Input struct {
	Current         Confidence
	Origin          Origin
	DaysSinceUpdate int
}

// Resolve computes the next confidence. With no current value it returns
// Initial(origin). A purchase always increases, even after a long idle
// period; anything else applies time decay.
func Resolve(in Input) Confidence {
	switch {
	case in.Current == None:
		return Initial(in.Origin)
	case in.Origin.IsPurchase():
		return Increase(in.Current)
	default:
		return DecayByTime(in.Current, in.DaysSinceUpdate)
	}
}

// DaysSince returns the whole days elapsed from t to now, never negative.
func DaysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}
