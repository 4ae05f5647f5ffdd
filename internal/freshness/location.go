package freshness

import "strings"

// Location is a storage-location category. Perishable categories carry the
// lowest weights and therefore rank as most urgent.
type Location int

const (
	LocationMeat Location = iota
	LocationSeafood
	LocationDairy
	LocationProduce
	LocationBakery
	LocationFridge
	LocationFreezer
	LocationCondiments
	LocationPantry
	LocationSpices
)

var locationNames = map[Location]string{
	LocationMeat:       "meat",
	LocationSeafood:    "seafood",
	LocationDairy:      "dairy",
	LocationProduce:    "produce",
	LocationBakery:     "bakery",
	LocationFridge:     "fridge",
	LocationFreezer:    "freezer",
	LocationCondiments: "condiments",
	LocationPantry:     "pantry",
	LocationSpices:     "spices",
}

var locationWeights = map[Location]int{
	LocationMeat:       0,
	LocationSeafood:    1,
	LocationDairy:      2,
	LocationProduce:    3,
	LocationBakery:     4,
	LocationFridge:     5,
	LocationFreezer:    6,
	LocationCondiments: 7,
	LocationPantry:     8,
	LocationSpices:     9,
}

// ParseLocation maps a stored name to a Location; unknown names become pantry.
func ParseLocation(s string) Location {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range locationNames {
		if name == s {
			return l
		}
	}
	return LocationPantry
}

// KnownLocation reports whether s names a Location exactly.
func KnownLocation(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, name := range locationNames {
		if name == s {
			return true
		}
	}
	return false
}

func (l Location) String() string {
	if name, ok := locationNames[l]; ok {
		return name
	}
	return locationNames[LocationPantry]
}

// Weight is the fixed urgency weight of the location.
func (l Location) Weight() int {
	if w, ok := locationWeights[l]; ok {
		return w
	}
	return locationWeights[LocationPantry]
}

// MarshalText renders the location name for JSON.
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts a location name.
func (l *Location) UnmarshalText(b []byte) error {
	*l = ParseLocation(string(b))
	return nil
}
