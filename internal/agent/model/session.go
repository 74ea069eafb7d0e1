package model

import "context"

// State is a node of the per-user conversation state machine.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingDecision State = "awaiting_decision"
	StateEditingText      State = "editing_text"
	StateAnalyzed         State = "analyzed"
	StateViewingRecipes   State = "viewing_recipes"
)

// Session is the transient per-user state bridging asynchronous steps.
// An empty RecognizedText means no text is held. Analysis and Recipes are
// only ever derived from the RecognizedText currently held.
type Session struct {
	UserID         int64               `json:"userId"`
	State          State               `json:"state"`
	RecognizedText string              `json:"recognizedText,omitempty"`
	Analysis       *StructuredAnalysis `json:"analysis,omitempty"`
	Recipes        *RecipeSet          `json:"recipes,omitempty"`
}

// NewSession returns an idle session for the user.
func NewSession(userID int64) *Session {
	return &Session{UserID: userID, State: StateIdle}
}

// HasText reports whether recognized text is held.
func (s *Session) HasText() bool {
	return s != nil && s.RecognizedText != ""
}

type SessionRepository interface {
	// Get returns the user's session, or a fresh idle one.
	Get(ctx context.Context, userID int64) (*Session, error)

	// SetRecognizedText stores text and drops any analysis and recipes.
	SetRecognizedText(ctx context.Context, userID int64, text string) error

	SetAnalysis(ctx context.Context, userID int64, analysis *StructuredAnalysis) error

	SetRecipes(ctx context.Context, userID int64, recipes *RecipeSet) error

	SetState(ctx context.Context, userID int64, state State) error

	// Clear removes everything held for the user.
	Clear(ctx context.Context, userID int64) error
}

// Clone returns a copy that shares no mutable memory with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Analysis != nil {
		a := *s.Analysis
		a.Highlights = append([]string(nil), s.Analysis.Highlights...)
		a.Allergens = append([]string(nil), s.Analysis.Allergens...)
		a.Features = append([]string(nil), s.Analysis.Features...)
		c.Analysis = &a
	}
	if s.Recipes != nil {
		r := RecipeSet{Recipes: make([]Recipe, len(s.Recipes.Recipes))}
		for i, rec := range s.Recipes.Recipes {
			rec.Ingredients = append([]string(nil), rec.Ingredients...)
			rec.Steps = append([]string(nil), rec.Steps...)
			r.Recipes[i] = rec
		}
		c.Recipes = &r
	}
	return &c
}
