package model

import "time"

// RecipeLine is one ingredient requirement of a recipe joined with the
// requesting user's active inventory row, if any.
type RecipeLine struct {
	RecipeID     string
	IngredientID string
	Name         string
	Role         string
	Confidence   *string    // nil when the user does not hold the ingredient
	UpdatedAt    *time.Time // last update of the held item
}
