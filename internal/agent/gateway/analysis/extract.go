package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
	logx "github.com/labelspy/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024
	maxErrSnippet = 200
)

var errNoObject = errors.New("no json object found")

// ExtractObject returns the first balanced top-level {...} literal of raw.
// Braces inside JSON strings are ignored while balancing. The literal must
// be valid JSON; a later object is never considered.
func ExtractObject(raw string) (string, error) {
	if len(raw) > maxContentLen {
		raw = raw[:maxContentLen]
	}
	open := strings.IndexByte(raw, '{')
	if open < 0 {
		return "", errNoObject
	}
	end, ok := matchBrace(raw, open)
	if !ok {
		return "", fmt.Errorf("truncated json object at offset %d", open)
	}
	candidate := raw[open : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("first object at offset %d is not valid json", open)
	}
	return candidate, nil
}

// matchBrace returns the index of the brace closing the one at open.
func matchBrace(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ExtractStructured finds the first JSON object in raw, decodes it into T
// and runs validate. Every failure is an errx.KindAnalysisMalformed error.
func ExtractStructured[T any](raw string, validate func(*T) error) (out *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "extractor").Msgf("panic recovered: %v", r)
			out = nil
			err = errx.Newf(errx.KindAnalysisMalformed, "analysis response malformed", "extractor panic: %v", r)
		}
	}()

	obj, err := ExtractObject(raw)
	if err != nil {
		return nil, errx.New(errx.KindAnalysisMalformed, fmt.Errorf("%w in %q", err, safeSnippet(raw)), "analysis response malformed")
	}

	var v T
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	if err := dec.Decode(&v); err != nil {
		return nil, errx.New(errx.KindAnalysisMalformed, fmt.Errorf("decode: %w", err), "analysis response malformed")
	}
	if validate != nil {
		if err := validate(&v); err != nil {
			return nil, errx.New(errx.KindAnalysisMalformed, err, "analysis response malformed")
		}
	}
	return &v, nil
}

// analysisPayload uses pointers so absent required fields are detectable.
type analysisPayload struct {
	ProductName *string          `json:"productName"`
	Verdict     *string          `json:"verdict"`
	RiskLevel   *model.RiskLevel `json:"riskLevel"`
	Highlights  []string         `json:"highlights"`
	Allergens   []string         `json:"allergens"`
	Features    []string         `json:"features"`
	Advice      string           `json:"advice"`
}

func validateAnalysis(p *analysisPayload) error {
	if p.ProductName == nil || strings.TrimSpace(*p.ProductName) == "" {
		return errors.New("productName is missing")
	}
	if p.Verdict == nil || strings.TrimSpace(*p.Verdict) == "" {
		return errors.New("verdict is missing")
	}
	return nil
}

// ParseAnalysis extracts a StructuredAnalysis from free-form model output.
// A missing or unrecognised riskLevel becomes model.RiskUnknown.
func ParseAnalysis(raw string) (*model.StructuredAnalysis, error) {
	p, err := ExtractStructured(raw, validateAnalysis)
	if err != nil {
		return nil, err
	}
	risk := model.RiskUnknown
	if p.RiskLevel != nil {
		risk = *p.RiskLevel
	}
	return &model.StructuredAnalysis{
		ProductName: strings.TrimSpace(*p.ProductName),
		Verdict:     strings.TrimSpace(*p.Verdict),
		RiskLevel:   risk,
		Highlights:  cleanList(p.Highlights, false),
		Allergens:   cleanList(p.Allergens, true),
		Features:    cleanList(p.Features, false),
		Advice:      strings.TrimSpace(p.Advice),
	}, nil
}

type recipesPayload struct {
	Recipes *[]struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Ingredients []string `json:"ingredients"`
		Steps       []string `json:"steps"`
	} `json:"recipes"`
}

func validateRecipes(p *recipesPayload) error {
	if p.Recipes == nil {
		return errors.New("recipes is missing")
	}
	return nil
}

// ParseRecipes extracts up to model.MaxRecipes named recipes. Entries
// without a name are dropped; no usable entry at all is malformed.
func ParseRecipes(raw string) (*model.RecipeSet, error) {
	p, err := ExtractStructured(raw, validateRecipes)
	if err != nil {
		return nil, err
	}
	set := &model.RecipeSet{Recipes: make([]model.Recipe, 0, model.MaxRecipes)}
	for _, r := range *p.Recipes {
		if len(set.Recipes) == model.MaxRecipes {
			break
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		set.Recipes = append(set.Recipes, model.Recipe{
			Name:        name,
			Type:        model.NormalizeRecipeType(r.Type),
			Description: strings.TrimSpace(r.Description),
			Ingredients: cleanList(r.Ingredients, false),
			Steps:       cleanList(r.Steps, false),
		})
	}
	if len(set.Recipes) == 0 {
		return nil, errx.New(errx.KindAnalysisMalformed, errors.New("no named recipe"), "analysis response malformed")
	}
	return set, nil
}

// cleanList trims items and drops blanks; dedupe keeps the first occurrence.
func cleanList(in []string, dedupe bool) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(s)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, s)
	}
	return out
}

func safeSnippet(s string) string {
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}
