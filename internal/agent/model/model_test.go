package model

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRiskLevel(t *testing.T) {
	cases := map[string]RiskLevel{
		"safe":      RiskSafe,
		" Moderate": RiskModerate,
		"HIGH":      RiskHigh,
		"":          RiskUnknown,
		"low":       RiskUnknown,
		"dangerous": RiskUnknown,
		"unknown":   RiskUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRiskLevel(in), "input %q", in)
	}
}

func TestRiskLevelUnmarshalNeverDefaultsToSafe(t *testing.T) {
	var a StructuredAnalysis
	require.NoError(t, json.Unmarshal([]byte(`{"riskLevel":"very low"}`), &a))
	assert.Equal(t, RiskUnknown, a.RiskLevel)

	require.NoError(t, json.Unmarshal([]byte(`{"riskLevel":3}`), &a))
	assert.Equal(t, RiskUnknown, a.RiskLevel)
}

func TestNewHistoryRecordTruncatesExcerpt(t *testing.T) {
	long := make([]rune, 700)
	for i := range long {
		long[i] = 'я'
	}
	analysis := &StructuredAnalysis{ProductName: "Snack", Verdict: "ok", RiskLevel: RiskModerate, Highlights: []string{"E250"}}

	rec, err := NewHistoryRecord(7, "bob", string(long), analysis, 500)
	require.NoError(t, err)

	assert.Len(t, []rune(rec.CompositionExcerpt), 500)
	assert.Equal(t, RiskModerate, rec.RiskLevel)
	assert.JSONEq(t, `{"productName":"Snack","verdict":"ok","riskLevel":"moderate","highlights":["E250"],"allergens":null,"features":null,"advice":""}`, rec.FullAnalysisPayload)
}

func TestNewHistoryRecordRejectsNilAnalysis(t *testing.T) {
	_, err := NewHistoryRecord(1, "", "text", nil, 0)
	assert.Error(t, err)
}

func TestComputeCost(t *testing.T) {
	usage := &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 2_000_000}
	in, out, total := ComputeCost(usage, ResolvePricing("gemini-2.5-flash"))

	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 5.00, out, 1e-9)
	assert.InDelta(t, 5.30, total, 1e-9)

	_, _, zero := ComputeCost(usage, ResolvePricing("unknown-model"))
	assert.Zero(t, zero)
}

func TestSessionHasText(t *testing.T) {
	var s *Session
	assert.False(t, s.HasText())
	s = NewSession(1)
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.HasText())
	s.RecognizedText = "Sugar"
	assert.True(t, s.HasText())
}

func TestSessionCloneIsDeep(t *testing.T) {
	risk := RiskHigh
	s := NewSession(7)
	s.Analysis = &StructuredAnalysis{ProductName: "P", RiskLevel: risk, Highlights: []string{"E250"}}
	s.Recipes = &RecipeSet{Recipes: []Recipe{{Name: "Stew", Ingredients: []string{"salt"}}}}

	c := s.Clone()
	c.Analysis.Highlights[0] = "E100"
	c.Recipes.Recipes[0].Name = "Soup"

	assert.Equal(t, "E250", s.Analysis.Highlights[0])
	assert.Equal(t, "Stew", s.Recipes.Recipes[0].Name)
	assert.Nil(t, (*Session)(nil).Clone())
}
