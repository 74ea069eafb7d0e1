package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/analyze_prompt.txt
var analyzePrompt string

//go:embed template/recipes_prompt.txt
var recipesPrompt string

// Intent selects which prompt family is rendered for the generative call.
type Intent string

const (
	IntentAnalyze Intent = "analyze"
	IntentRecipes Intent = "recipes"
)

// Template returns the chat template of the intent. It expects the
// variables produced by Variables.
func Template(intent Intent) (prompt.ChatTemplate, error) {
	var tplText string
	switch intent {
	case IntentAnalyze:
		tplText = analyzePrompt
	case IntentRecipes:
		tplText = recipesPrompt
	default:
		return nil, fmt.Errorf("unknown prompt intent %q", intent)
	}
	return prompt.FromMessages(schema.GoTemplate, schema.UserMessage(tplText)), nil
}

// Variables binds the composition text for Template.
func Variables(composition string) map[string]any {
	return map[string]any{
		"Composition": strings.TrimSpace(composition),
	}
}
