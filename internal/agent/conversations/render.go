package conversations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
)

const (
	msgRecognizing       = "🔍 Recognizing text..."
	msgAnalyzing         = "🤖 Analyzing the composition..."
	msgGeneratingRecipes = "👨‍🍳 Generating recipes..."
	msgCancelled         = "❌ Cancelled. Send a new photo whenever you are ready."
	msgEditPrompt        = "📝 Send the corrected composition text as a message."
	msgSendPhotoHint     = "📸 Send me a photo of a product label and I will analyze its composition."
	msgHistoryEmpty      = "📭 History is empty"
	msgUnknownCommand    = "🤔 Unknown command. Send /help to see what I can do."

	msgErrRecognitionUnavailable = "❌ The text recognition service is unavailable. Try again later."
	msgErrRecognitionEmpty       = "❌ Could not recognize any text. Try another photo."
	msgErrAnalysisUnavailable    = "❌ The analysis service is unavailable. Try again later."
	msgErrAnalysisMalformed      = "❌ Could not understand the analysis result. Try again."
	msgErrPersistence            = "❌ Could not access saved data. Try again later."
	msgErrNothingToAnalyze       = "❌ Nothing to analyze. Send a photo first."
	msgErrNothingToShow          = "❌ Nothing to show. Analyze a photo first."
	msgErrInvalidTransition      = "❌ This button is no longer active."
	msgErrRateLimited            = "⏳ Too many photos. Wait a minute and try again."
	msgErrEmptyText              = "❌ The text is empty. Send the corrected composition."
	msgErrSystem                 = "❌ Something went wrong. Try again."
)

var (
	errNothingToShow = errors.New("no analysis in session")
	errEmptyEdit     = errors.New("edited text is empty")
)

var (
	decisionButtons = []Button{
		{Label: "✅ Analyze", CallbackID: CallbackAnalyze},
		{Label: "📝 Edit", CallbackID: CallbackEdit},
		{Label: "❌ Cancel", CallbackID: CallbackCancel},
	}
	analysisButtons = []Button{
		{Label: "🍽️ Recipes", CallbackID: CallbackRecipes},
		{Label: "📸 New photo", CallbackID: CallbackCancel},
	}
	recipesButtons = []Button{
		{Label: "◀️ Back", CallbackID: CallbackBack},
	}
)

// errorText maps an error to the single message shown for it.
func errorText(err error) string {
	switch errx.KindOf(err) {
	case errx.KindRecognitionUnavailable:
		return msgErrRecognitionUnavailable
	case errx.KindRecognitionEmpty:
		if errors.Is(err, errEmptyEdit) {
			return msgErrEmptyText
		}
		return msgErrRecognitionEmpty
	case errx.KindAnalysisUnavailable:
		return msgErrAnalysisUnavailable
	case errx.KindAnalysisMalformed:
		return msgErrAnalysisMalformed
	case errx.KindPersistence:
		return msgErrPersistence
	case errx.KindSessionStateMissing:
		if errors.Is(err, errNothingToShow) {
			return msgErrNothingToShow
		}
		return msgErrNothingToAnalyze
	case errx.KindInvalidTransition:
		return msgErrInvalidTransition
	case errx.KindRateLimited:
		return msgErrRateLimited
	default:
		return msgErrSystem
	}
}

func welcomeText(username string) string {
	name := username
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`👋 Hi, %s!

I am LabelSpy. I analyze product labels in seconds.

🎯 What I can do:
• 📷 Read the composition from a photo
• 🧪 Check ingredients and E-codes
• ⚠️ Give a safety verdict
• 🍽️ Suggest recipes
• 💾 Keep a history of your analyses

📝 Just send a photo of a label.`, name)
}

const helpText = `📖 Help

/start - start over
/help - this help
/history - your recent analyses
/clear - delete your history

📸 How to use:
1. Send a photo of a label
2. Check the recognized text
3. Press "Analyze"
4. Read the report`

func previewText(text string, limit int) string {
	preview := model.Truncate(text, limit)
	if preview != text {
		preview += "..."
	}
	return fmt.Sprintf("📄 Recognized text:\n\n%s\n\nWhat next?", preview)
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func analysisText(a *model.StructuredAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n\n", a.RiskLevel.Marker(), a.ProductName)
	fmt.Fprintf(&sb, "Verdict: %s\n", a.Verdict)
	fmt.Fprintf(&sb, "Risk level: %s %s\n\n", a.RiskLevel, a.RiskLevel.Marker())
	fmt.Fprintf(&sb, "E-codes: %s\n\n", joinOr(a.Highlights, "none found"))
	fmt.Fprintf(&sb, "Allergens: %s\n", joinOr(a.Allergens, "none found"))
	if len(a.Features) > 0 {
		sb.WriteString("\nFeatures:\n")
		for _, f := range a.Features {
			fmt.Fprintf(&sb, "• %s\n", f)
		}
	}
	if a.Advice != "" {
		fmt.Fprintf(&sb, "\n💡 Advice: %s", a.Advice)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func recipesText(rs *model.RecipeSet) string {
	var sb strings.Builder
	sb.WriteString("🍽️ Recipes:\n")
	for i, r := range rs.Recipes {
		fmt.Fprintf(&sb, "\n%d. %s (%s)\n", i+1, r.Name, r.Type)
		if r.Description != "" {
			fmt.Fprintf(&sb, "%s\n", r.Description)
		}
		if len(r.Ingredients) > 0 {
			fmt.Fprintf(&sb, "Ingredients: %s\n", strings.Join(r.Ingredients, ", "))
		}
		for j, step := range r.Steps {
			fmt.Fprintf(&sb, "  %d) %s\n", j+1, step)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func historyText(records []model.HistoryRecord) string {
	if len(records) == 0 {
		return msgHistoryEmpty
	}
	var sb strings.Builder
	sb.WriteString("📋 Your recent analyses:\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "\n%s %s - %s\n%s\n", r.RiskLevel.Marker(), r.ProductName, r.Verdict,
			r.CreatedAt.UTC().Format(time.DateTime+" UTC"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func clearedText(n int64) string {
	if n == 0 {
		return msgHistoryEmpty
	}
	return fmt.Sprintf("🗑 Deleted %d record(s) from your history.", n)
}
