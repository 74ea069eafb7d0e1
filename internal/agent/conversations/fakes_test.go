package conversations

import (
	"context"
	"sync"

	"github.com/labelspy/server/internal/agent/model"
)

type fakeRecognizer struct {
	mu    sync.Mutex
	texts []string
	err   error
	panic bool
	calls int
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("recognizer exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.texts) == 0 {
		return "", nil
	}
	text := f.texts[0]
	if len(f.texts) > 1 {
		f.texts = f.texts[1:]
	}
	return text, nil
}

type fakeAnalyzer struct {
	mu           sync.Mutex
	analysis     *model.StructuredAnalysis
	analysisErr  error
	recipes      *model.RecipeSet
	recipesErr   error
	analyzeTexts []string
	recipeTexts  []string
}

func (f *fakeAnalyzer) AnalyzeComposition(_ context.Context, text string) (*model.StructuredAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeTexts = append(f.analyzeTexts, text)
	if f.analysisErr != nil {
		return nil, f.analysisErr
	}
	a := *f.analysis
	return &a, nil
}

func (f *fakeAnalyzer) SuggestRecipes(_ context.Context, text string) (*model.RecipeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipeTexts = append(f.recipeTexts, text)
	if f.recipesErr != nil {
		return nil, f.recipesErr
	}
	rs := *f.recipes
	return &rs, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []model.HistoryRecord
	nextID  int64
	err     error
}

func (f *fakeHistory) Append(_ context.Context, rec *model.HistoryRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	rec.ID = f.nextID
	f.records = append(f.records, *rec)
	return rec.ID, nil
}

func (f *fakeHistory) ListRecent(_ context.Context, userID int64, limit int) ([]model.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.HistoryRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakeHistory) Clear(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	kept := f.records[:0]
	var n int64
	for _, r := range f.records {
		if r.UserID == userID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return n, nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type shown struct {
	UserID    int64
	MessageID int
	Text      string
	Buttons   []Button
	Edit      bool
}

type fakePresenter struct {
	mu       sync.Mutex
	messages []shown
	nextID   int
	typing   int
}

func (f *fakePresenter) SendText(_ context.Context, userID int64, text string, buttons []Button) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.messages = append(f.messages, shown{UserID: userID, MessageID: f.nextID, Text: text, Buttons: buttons})
	return f.nextID, nil
}

func (f *fakePresenter) EditMessage(_ context.Context, userID int64, messageID int, text string, buttons []Button) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, shown{UserID: userID, MessageID: messageID, Text: text, Buttons: buttons, Edit: true})
	return messageID, nil
}

func (f *fakePresenter) Typing(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakePresenter) last() shown {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return shown{}
	}
	return f.messages[len(f.messages)-1]
}
