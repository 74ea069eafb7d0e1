package conversations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/labelspy/server/internal/agent/model"
	"github.com/labelspy/server/internal/agent/repo"
	errx "github.com/labelspy/server/internal/core/error"
)

const user int64 = 100

type ControllerSuite struct {
	suite.Suite
	ctx        context.Context
	recognizer *fakeRecognizer
	analyzer   *fakeAnalyzer
	history    *fakeHistory
	presenter  *fakePresenter
	sessions   *repo.MemorySessionRepository
	controller *Controller
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.recognizer = &fakeRecognizer{texts: []string{"Sugar, Salt, E250"}}
	s.analyzer = &fakeAnalyzer{
		analysis: &model.StructuredAnalysis{
			ProductName: "Snack",
			Verdict:     "ok",
			RiskLevel:   model.RiskModerate,
			Highlights:  []string{"E250"},
			Allergens:   []string{},
			Features:    []string{},
			Advice:      "eat in moderation",
		},
		recipes: &model.RecipeSet{Recipes: []model.Recipe{
			{Name: "Salted caramel", Type: model.RecipeDish, Description: "Sweet and salty"},
		}},
	}
	s.history = &fakeHistory{}
	s.presenter = &fakePresenter{}
	s.sessions = repo.NewMemorySessionRepository(0)
	s.controller = NewController(Deps{
		Recognizer: s.recognizer,
		Analyzer:   s.analyzer,
		Sessions:   s.sessions,
		History:    s.history,
		Presenter:  s.presenter,
	}, Config{PreviewLen: 200, HistoryLimit: 10})
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) photo() error {
	return s.controller.Handle(s.ctx, Event{Kind: EventPhoto, UserID: user, Username: "alice", Image: []byte("jpeg")})
}

// press taps a button on the most recent message.
func (s *ControllerSuite) press(callback string) error {
	return s.pressOn(s.presenter.last().MessageID, callback)
}

func (s *ControllerSuite) pressOn(messageID int, callback string) error {
	return s.controller.Handle(s.ctx, Event{Kind: EventButton, UserID: user, Username: "alice", CallbackID: callback, MessageID: messageID})
}

func (s *ControllerSuite) text(text string) error {
	return s.controller.Handle(s.ctx, Event{Kind: EventText, UserID: user, Text: text})
}

func (s *ControllerSuite) command(name string) error {
	return s.controller.Handle(s.ctx, Event{Kind: EventCommand, UserID: user, Username: "alice", Command: name})
}

func (s *ControllerSuite) session() *model.Session {
	sess, err := s.sessions.Get(s.ctx, user)
	s.Require().NoError(err)
	return sess
}

func (s *ControllerSuite) TestPhotoThenAnalyzeScenario() {
	s.Require().NoError(s.photo())

	preview := s.presenter.last()
	s.Contains(preview.Text, "Sugar, Salt, E250")
	s.Equal(decisionButtons, preview.Buttons)
	s.Equal(model.StateAwaitingDecision, s.session().State)
	s.Equal(1, s.presenter.typing)

	s.Require().NoError(s.press(CallbackAnalyze))

	s.Equal([]string{"Sugar, Salt, E250"}, s.analyzer.analyzeTexts)
	s.Require().Equal(1, s.history.count())
	rec := s.history.records[0]
	s.Equal(model.RiskModerate, rec.RiskLevel)
	s.Equal("alice", rec.Username)
	s.Equal("Snack", rec.ProductName)
	s.Equal("Sugar, Salt, E250", rec.CompositionExcerpt)

	out := s.presenter.last()
	s.True(out.Edit)
	s.Contains(out.Text, "E-codes: E250")
	s.Contains(out.Text, "⚠️")
	s.Contains(out.Text, "Allergens: none found")
	s.Equal(analysisButtons, out.Buttons)

	sess := s.session()
	s.Equal(model.StateAnalyzed, sess.State)
	s.Require().NotNil(sess.Analysis)
	s.Equal("Snack", sess.Analysis.ProductName)
}

func (s *ControllerSuite) TestEmptyRecognitionStaysIdle() {
	s.recognizer.texts = []string{"   "}

	err := s.photo()
	s.ErrorIs(err, errx.ErrRecognitionEmpty)
	s.Equal(msgErrRecognitionEmpty, s.presenter.last().Text)

	sess := s.session()
	s.Equal(model.StateIdle, sess.State)
	s.False(sess.HasText())
}

func (s *ControllerSuite) TestRecognitionFailureLeavesSessionUnchanged() {
	s.Require().NoError(s.photo())
	s.recognizer.err = errx.New(errx.KindRecognitionUnavailable, errors.New("503"), "down")

	err := s.photo()
	s.ErrorIs(err, errx.ErrRecognitionUnavailable)
	s.Equal(msgErrRecognitionUnavailable, s.presenter.last().Text)
	s.True(s.presenter.last().Edit)

	sess := s.session()
	s.Equal(model.StateAwaitingDecision, sess.State)
	s.Equal("Sugar, Salt, E250", sess.RecognizedText)
}

func (s *ControllerSuite) TestSecondPhotoDiscardsFirst() {
	s.recognizer.texts = []string{"first composition", "second composition"}

	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))
	s.Require().NotNil(s.session().Analysis)

	s.Require().NoError(s.photo())
	sess := s.session()
	s.Equal("second composition", sess.RecognizedText)
	s.Nil(sess.Analysis)
	s.Nil(sess.Recipes)
	s.Equal(model.StateAwaitingDecision, sess.State)

	s.Require().NoError(s.press(CallbackAnalyze))
	s.Equal([]string{"first composition", "second composition"}, s.analyzer.analyzeTexts)
	s.Equal("second composition", s.history.records[1].CompositionExcerpt)
}

func (s *ControllerSuite) TestRecipesBeforeAnalyzeIsStateMissing() {
	err := s.press(CallbackRecipes)
	s.ErrorIs(err, errx.ErrSessionStateMissing)

	s.Require().NoError(s.photo())
	err = s.press(CallbackRecipes)
	s.ErrorIs(err, errx.ErrSessionStateMissing)
	s.Equal(msgErrNothingToAnalyze, s.presenter.last().Text)

	s.Empty(s.analyzer.recipeTexts)
}

func (s *ControllerSuite) TestAnalyzeWithoutTextIsStateMissing() {
	err := s.press(CallbackAnalyze)
	s.ErrorIs(err, errx.ErrSessionStateMissing)
	s.Equal(msgErrNothingToAnalyze, s.presenter.last().Text)
	s.Empty(s.analyzer.analyzeTexts)
	s.Zero(s.history.count())
}

func (s *ControllerSuite) TestDoubleAnalyzeIsRejected() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))

	err := s.press(CallbackAnalyze)
	s.ErrorIs(err, errx.ErrInvalidTransition)
	s.Len(s.analyzer.analyzeTexts, 1)
	s.Equal(1, s.history.count())
	s.Equal(model.StateAnalyzed, s.session().State)
}

func (s *ControllerSuite) TestMalformedAnalysisWritesNoHistory() {
	s.analyzer.analysisErr = errx.New(errx.KindAnalysisMalformed, errors.New("no json"), "malformed")
	s.Require().NoError(s.photo())

	err := s.press(CallbackAnalyze)
	s.ErrorIs(err, errx.ErrAnalysisMalformed)
	s.Equal(msgErrAnalysisMalformed, s.presenter.last().Text)
	s.Zero(s.history.count())

	sess := s.session()
	s.Equal(model.StateAwaitingDecision, sess.State)
	s.Nil(sess.Analysis)
}

func (s *ControllerSuite) TestHistoryFailureStillShowsAnalysis() {
	s.history.err = errx.New(errx.KindPersistence, errors.New("disk full"), errx.DBErrorMessage)
	s.Require().NoError(s.photo())

	s.Require().NoError(s.press(CallbackAnalyze))
	out := s.presenter.last()
	s.Contains(out.Text, "Snack")
	s.Equal(analysisButtons, out.Buttons)
	s.Equal(model.StateAnalyzed, s.session().State)
}

func (s *ControllerSuite) TestRecipesAreCachedAndBackRedisplaysAnalysis() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))

	s.Require().NoError(s.press(CallbackRecipes))
	s.Contains(s.presenter.last().Text, "Salted caramel")
	s.Equal(recipesButtons, s.presenter.last().Buttons)
	s.Equal(model.StateViewingRecipes, s.session().State)
	s.Equal([]string{"Sugar, Salt, E250"}, s.analyzer.recipeTexts)

	s.Require().NoError(s.press(CallbackBack))
	s.Contains(s.presenter.last().Text, "Snack")
	s.Equal(model.StateAnalyzed, s.session().State)

	s.Require().NoError(s.press(CallbackRecipes))
	s.Len(s.analyzer.recipeTexts, 1)
	s.Contains(s.presenter.last().Text, "Salted caramel")
}

func (s *ControllerSuite) TestRecipesFailureRemainsAnalyzed() {
	s.analyzer.recipesErr = errx.New(errx.KindAnalysisUnavailable, errors.New("timeout"), "down")
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))

	err := s.press(CallbackRecipes)
	s.ErrorIs(err, errx.ErrAnalysisUnavailable)
	s.Equal(msgErrAnalysisUnavailable, s.presenter.last().Text)
	s.Equal(model.StateAnalyzed, s.session().State)
	s.Nil(s.session().Recipes)
}

func (s *ControllerSuite) TestBackWithoutAnalysisIsNothingToShow() {
	err := s.press(CallbackBack)
	s.ErrorIs(err, errx.ErrSessionStateMissing)
	s.Equal(msgErrNothingToShow, s.presenter.last().Text)
}

func (s *ControllerSuite) TestCancelFromAnyStateReturnsToIdle() {
	s.Require().NoError(s.press(CallbackCancel))
	s.Equal(model.StateIdle, s.session().State)

	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))
	s.Require().NoError(s.press(CallbackRecipes))

	s.Require().NoError(s.press(CallbackCancel))
	sess := s.session()
	s.Equal(model.StateIdle, sess.State)
	s.False(sess.HasText())
	s.Nil(sess.Analysis)
	s.Equal(msgCancelled, s.presenter.last().Text)
}

func (s *ControllerSuite) TestEditReplacesRecognizedText() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackEdit))
	s.Equal(model.StateEditingText, s.session().State)
	s.Equal(msgEditPrompt, s.presenter.last().Text)

	s.Require().NoError(s.text("  Water, Sugar  "))
	sess := s.session()
	s.Equal(model.StateAwaitingDecision, sess.State)
	s.Equal("Water, Sugar", sess.RecognizedText)
	s.Contains(s.presenter.last().Text, "Water, Sugar")
	s.Equal(decisionButtons, s.presenter.last().Buttons)

	s.Require().NoError(s.press(CallbackAnalyze))
	s.Equal([]string{"Water, Sugar"}, s.analyzer.analyzeTexts)
}

func (s *ControllerSuite) TestButtonLeavesEditing() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackEdit))

	s.Require().NoError(s.press(CallbackAnalyze))
	s.Equal([]string{"Sugar, Salt, E250"}, s.analyzer.analyzeTexts)
	s.Equal(model.StateAnalyzed, s.session().State)
}

func (s *ControllerSuite) TestFailedPhotoLeavesEditing() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackEdit))
	s.recognizer.texts = []string{"  "}

	err := s.photo()
	s.ErrorIs(err, errx.ErrRecognitionEmpty)

	sess := s.session()
	s.Equal(model.StateAwaitingDecision, sess.State)
	s.Equal("Sugar, Salt, E250", sess.RecognizedText)

	s.Require().NoError(s.text("Water"))
	s.Equal(msgSendPhotoHint, s.presenter.last().Text)
	s.Equal("Sugar, Salt, E250", s.session().RecognizedText)
}

func (s *ControllerSuite) TestRepliesTargetTheirOwnMessage() {
	s.Require().NoError(s.photo())
	first := s.presenter.last()
	s.recognizer.texts = []string{"Water, Sugar"}
	s.Require().NoError(s.photo())
	second := s.presenter.last()

	s.NotEqual(first.MessageID, second.MessageID)
	s.True(second.Edit)
	s.Contains(second.Text, "Water, Sugar")

	s.Require().NoError(s.pressOn(first.MessageID, CallbackAnalyze))
	out := s.presenter.last()
	s.True(out.Edit)
	s.Equal(first.MessageID, out.MessageID)
	s.Equal(analysisButtons, out.Buttons)
}

func (s *ControllerSuite) TestCommandRepliesAreNewMessages() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.command(CommandHelp))
	s.False(s.presenter.last().Edit)
}

func (s *ControllerSuite) TestEmptyEditIsRejected() {
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackEdit))

	err := s.text("   ")
	s.ErrorIs(err, errx.ErrRecognitionEmpty)
	s.Equal(msgErrEmptyText, s.presenter.last().Text)
	s.Equal(model.StateEditingText, s.session().State)
}

func (s *ControllerSuite) TestTextOutsideEditingGetsHint() {
	s.Require().NoError(s.text("hello"))
	s.Equal(msgSendPhotoHint, s.presenter.last().Text)
	s.Equal(model.StateIdle, s.session().State)
}

func (s *ControllerSuite) TestUnknownCallbackIsInvalidTransition() {
	err := s.press("launch_rockets")
	s.ErrorIs(err, errx.ErrInvalidTransition)
	s.Equal(msgErrInvalidTransition, s.presenter.last().Text)
}

func (s *ControllerSuite) TestHistoryCommands() {
	s.Require().NoError(s.command(CommandHistory))
	s.Equal(msgHistoryEmpty, s.presenter.last().Text)

	s.recognizer.texts = []string{"one", "two"}
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))
	s.analyzer.analysis.ProductName = "Second"
	s.Require().NoError(s.photo())
	s.Require().NoError(s.press(CallbackAnalyze))
	before := s.session()

	s.Require().NoError(s.command(CommandHistory))
	out := s.presenter.last().Text
	s.Less(strings.Index(out, "Second"), strings.Index(out, "Snack"))
	s.Equal(before, s.session())

	s.Require().NoError(s.command(CommandClear))
	s.Contains(s.presenter.last().Text, "Deleted 2")
	s.Zero(s.history.count())
}

func (s *ControllerSuite) TestHistoryReadFailureIsShown() {
	s.history.err = errx.New(errx.KindPersistence, errors.New("locked"), errx.DBErrorMessage)
	err := s.command(CommandHistory)
	s.ErrorIs(err, errx.ErrPersistence)
	s.Equal(msgErrPersistence, s.presenter.last().Text)
}

func (s *ControllerSuite) TestStartAndHelp() {
	s.Require().NoError(s.command(CommandStart))
	s.Contains(s.presenter.last().Text, "alice")
	s.Require().NoError(s.command(CommandHelp))
	s.Equal(helpText, s.presenter.last().Text)
	s.Require().NoError(s.command("nope"))
	s.Equal(msgUnknownCommand, s.presenter.last().Text)
}

func (s *ControllerSuite) TestPanicIsRecovered() {
	s.recognizer.panic = true
	var err error
	s.NotPanics(func() { err = s.photo() })
	s.Error(err)
	s.Equal(msgErrSystem, s.presenter.last().Text)
}

func (s *ControllerSuite) TestLoadImageIsUsedWhenBytesAreMissing() {
	loaded := false
	err := s.controller.Handle(s.ctx, Event{Kind: EventPhoto, UserID: user, LoadImage: func(context.Context) ([]byte, error) {
		loaded = true
		return []byte("jpeg"), nil
	}})
	s.Require().NoError(err)
	s.True(loaded)

	err = s.controller.Handle(s.ctx, Event{Kind: EventPhoto, UserID: user, LoadImage: func(context.Context) ([]byte, error) {
		return nil, errors.New("telegram file api down")
	}})
	s.ErrorIs(err, errx.ErrRecognitionUnavailable)
	s.Equal(1, s.recognizer.calls)
}

func TestPreviewIsTruncated(t *testing.T) {
	presenter := &fakePresenter{}
	c := NewController(Deps{
		Recognizer: &fakeRecognizer{texts: []string{strings.Repeat("я", 30)}},
		Analyzer:   &fakeAnalyzer{},
		Sessions:   repo.NewMemorySessionRepository(0),
		History:    &fakeHistory{},
		Presenter:  presenter,
	}, Config{PreviewLen: 10})

	require.NoError(t, c.Handle(context.Background(), Event{Kind: EventPhoto, UserID: 1, Image: []byte("x")}))
	assert.Contains(t, presenter.last().Text, strings.Repeat("я", 10)+"...")
	assert.NotContains(t, presenter.last().Text, strings.Repeat("я", 11))
}

func TestPhotoRateLimit(t *testing.T) {
	recognizer := &fakeRecognizer{texts: []string{"text"}}
	presenter := &fakePresenter{}
	c := NewController(Deps{
		Recognizer: recognizer,
		Analyzer:   &fakeAnalyzer{},
		Sessions:   repo.NewMemorySessionRepository(0),
		History:    &fakeHistory{},
		Presenter:  presenter,
		Limiter:    NewLimiter(1, 1),
	}, Config{})

	ev := Event{Kind: EventPhoto, UserID: 1, Image: []byte("x")}
	require.NoError(t, c.Handle(context.Background(), ev))
	err := c.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, errx.ErrRateLimited)
	assert.Equal(t, msgErrRateLimited, presenter.last().Text)
	assert.False(t, presenter.last().Edit)
	assert.Equal(t, 1, recognizer.calls)

	other := Event{Kind: EventPhoto, UserID: 2, Image: []byte("x")}
	assert.NoError(t, c.Handle(context.Background(), other))
}

func TestRateLimitedPhotoLeavesEditing(t *testing.T) {
	ctx := context.Background()
	sessions := repo.NewMemorySessionRepository(0)
	presenter := &fakePresenter{}
	c := NewController(Deps{
		Recognizer: &fakeRecognizer{texts: []string{"Sugar"}},
		Analyzer:   &fakeAnalyzer{},
		Sessions:   sessions,
		History:    &fakeHistory{},
		Presenter:  presenter,
		Limiter:    NewLimiter(1, 1),
	}, Config{})

	require.NoError(t, c.Handle(ctx, Event{Kind: EventPhoto, UserID: 1, Image: []byte("x")}))
	require.NoError(t, c.Handle(ctx, Event{Kind: EventButton, UserID: 1, CallbackID: CallbackEdit, MessageID: presenter.last().MessageID}))

	err := c.Handle(ctx, Event{Kind: EventPhoto, UserID: 1, Image: []byte("x")})
	require.ErrorIs(t, err, errx.ErrRateLimited)

	sess, err := sessions.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingDecision, sess.State)
}
