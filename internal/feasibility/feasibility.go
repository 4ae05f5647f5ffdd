// Package feasibility judges whether a recipe can be made from the current
// availability estimates of its ingredients.
package feasibility

import (
	"strings"

	"pantry-api/internal/availability"
)

// Role is the part an ingredient plays in a recipe.
type Role int

const (
	// RoleUnknown covers unrecognised roles; it requires the lowest weight.
	RoleUnknown Role = iota
	RoleBase
	RolePrincipal
	RoleSecondary
	RoleComplement
	RoleSeasoning
)

// ParseRole maps a stored role name to a Role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return RoleBase
	case "principal":
		return RolePrincipal
	case "secondary":
		return RoleSecondary
	case "complement":
		return RoleComplement
	case "seasoning":
		return RoleSeasoning
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleBase:
		return "base"
	case RolePrincipal:
		return "principal"
	case RoleSecondary:
		return "secondary"
	case RoleComplement:
		return "complement"
	case RoleSeasoning:
		return "seasoning"
	default:
		return "unknown"
	}
}

// RequiredWeight is the minimum confidence weight the role needs.
func (r Role) RequiredWeight() int {
	switch r {
	case RoleBase:
		return 3
	case RolePrincipal, RoleSecondary:
		return 2
	default:
		return 1
	}
}

// Status is the tri-state verdict for an ingredient or a whole recipe.
type Status int

const (
	CanMake Status = iota
	MightBeMissing
	Missing
)

func (s Status) String() string {
	switch s {
	case MightBeMissing:
		return "might-be-missing"
	case Missing:
		return "missing"
	default:
		return "can-make"
	}
}

// MarshalText renders the status name for JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ResolveStatus judges one ingredient. None confidence means the ingredient
// is not in the inventory at all.
func ResolveStatus(role Role, c availability.Confidence) Status {
	if c == availability.None {
		return Missing
	}
	if c.Weight() < role.RequiredWeight() {
		return MightBeMissing
	}
	return CanMake
}

// Aggregate folds per-ingredient statuses: any Missing makes the recipe
// Missing, otherwise any MightBeMissing makes it MightBeMissing.
func Aggregate(statuses []Status) Status {
	out := CanMake
	for _, s := range statuses {
		if s == Missing {
			return Missing
		}
		if s == MightBeMissing {
			out = MightBeMissing
		}
	}
	return out
}

// Requirement is one ingredient line of a recipe joined with the user's
// current confidence for it.
type Requirement struct {
	IngredientID string
	Name         string
	Role         Role
	Confidence   availability.Confidence
}

// IngredientVerdict is the per-ingredient outcome reported with a recipe.
type IngredientVerdict struct {
	IngredientID   string                  `json:"ingredient_id"`
	Name           string                  `json:"name"`
	Role           string                  `json:"role"`
	Confidence     availability.Confidence `json:"confidence,omitempty"`
	RequiredWeight int                     `json:"required_weight"`
	Status         Status                  `json:"status"`
}

// RecipeVerdict is the aggregate outcome for one recipe.
type RecipeVerdict struct {
	RecipeID      string              `json:"recipe_id"`
	Status        Status              `json:"status"`
	PerIngredient []IngredientVerdict `json:"per_ingredient"`
}

// ResolveRecipe judges every requirement and the recipe as a whole.
// PerIngredient keeps the order of reqs.
func ResolveRecipe(recipeID string, reqs []Requirement) RecipeVerdict {
	verdict := RecipeVerdict{RecipeID: recipeID, PerIngredient: make([]IngredientVerdict, 0, len(reqs))}
	statuses := make([]Status, 0, len(reqs))
	for _, r := range reqs {
		s := ResolveStatus(r.Role, r.Confidence)
		statuses = append(statuses, s)
		verdict.PerIngredient = append(verdict.PerIngredient, IngredientVerdict{
			IngredientID:   r.IngredientID,
			Name:           r.Name,
			Role:           r.Role.String(),
			Confidence:     r.Confidence,
			RequiredWeight: r.Role.RequiredWeight(),
			Status:         s,
		})
	}
	verdict.Status = Aggregate(statuses)
	return verdict
}
