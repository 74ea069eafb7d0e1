package model

import (
	"encoding/json"
	"strings"
)

// RiskLevel is the coarse severity of a product composition.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	// RiskUnknown is used for missing or unrecognised values. It is never
	// coerced to RiskSafe.
	RiskUnknown RiskLevel = "unknown"
)

// NormalizeRiskLevel maps free-form provider output onto the closed set.
func NormalizeRiskLevel(v string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(v))) {
	case RiskSafe:
		return RiskSafe
	case RiskModerate:
		return RiskModerate
	case RiskHigh:
		return RiskHigh
	default:
		return RiskUnknown
	}
}

// UnmarshalJSON normalises any string, and tolerates non-string values as unknown.
func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*r = RiskUnknown
		return nil
	}
	*r = NormalizeRiskLevel(s)
	return nil
}

// Marker is the emoji shown next to a risk level.
func (r RiskLevel) Marker() string {
	switch r {
	case RiskSafe:
		return "✅"
	case RiskModerate:
		return "⚠️"
	case RiskHigh:
		return "🔴"
	default:
		return "❓"
	}
}

// StructuredAnalysis is the verdict produced for one recognized composition.
type StructuredAnalysis struct {
	ProductName string    `json:"productName"`
	Verdict     string    `json:"verdict"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	Highlights  []string  `json:"highlights"`
	Allergens   []string  `json:"allergens"`
	Features    []string  `json:"features"`
	Advice      string    `json:"advice"`
}

// RecipeType classifies a suggested recipe.
type RecipeType string

const (
	RecipeCocktail RecipeType = "cocktail"
	RecipeDish     RecipeType = "dish"
	RecipeBeverage RecipeType = "beverage"
	RecipeOther    RecipeType = "other"
)

// NormalizeRecipeType maps unknown types to RecipeOther.
func NormalizeRecipeType(v string) RecipeType {
	switch RecipeType(strings.ToLower(strings.TrimSpace(v))) {
	case RecipeCocktail:
		return RecipeCocktail
	case RecipeDish:
		return RecipeDish
	case RecipeBeverage:
		return RecipeBeverage
	default:
		return RecipeOther
	}
}

// MaxRecipes bounds a RecipeSet.
const MaxRecipes = 3

type Recipe struct {
	Name        string     `json:"name"`
	Type        RecipeType `json:"type"`
	Description string     `json:"description"`
	Ingredients []string   `json:"ingredients"`
	Steps       []string   `json:"steps"`
}

// RecipeSet holds at most MaxRecipes recipes in provider order.
type RecipeSet struct {
	Recipes []Recipe `json:"recipes"`
}
