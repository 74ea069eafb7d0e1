// Package conversations runs the per-user label analysis flow: photo to
// recognized text, analysis, recipes and history.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
	"github.com/labelspy/server/internal/metrics"
	logx "github.com/labelspy/server/pkg/logger"
)

type Config struct {
	PreviewLen   int
	HistoryLimit int
	ExcerptLen   int
}

type Deps struct {
	Recognizer Recognizer
	Analyzer   Analyzer
	Sessions   model.SessionRepository
	History    model.HistoryRepository
	Presenter  Presenter
	// Limiter may be nil to disable rate limiting.
	Limiter *Limiter
}

// Controller is the conversation state machine. It expects events of one
// user to arrive one at a time, which the Dispatcher guarantees.
type Controller struct {
	recognizer Recognizer
	analyzer   Analyzer
	sessions   model.SessionRepository
	history    model.HistoryRepository
	presenter  Presenter
	limiter    *Limiter
	cfg        Config
}

func NewController(deps Deps, cfg Config) *Controller {
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = 200
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.ExcerptLen <= 0 {
		cfg.ExcerptLen = model.DefaultExcerptLen
	}
	return &Controller{
		recognizer: deps.Recognizer,
		analyzer:   deps.Analyzer,
		sessions:   deps.Sessions,
		history:    deps.History,
		presenter:  deps.Presenter,
		limiter:    deps.Limiter,
		cfg:        cfg,
	}
}

// turn is the state of one event being handled.
type turn struct {
	ev  Event
	log zerolog.Logger
	// target is the message replies replace. Zero sends new messages.
	target int
}

func (t *turn) reply(ctx context.Context, c *Controller, text string, buttons []Button) error {
	if t.target == 0 {
		_, err := c.presenter.SendText(ctx, t.ev.UserID, text, buttons)
		return err
	}
	id, err := c.presenter.EditMessage(ctx, t.ev.UserID, t.target, text, buttons)
	if err != nil {
		return err
	}
	t.target = id
	return nil
}

// Handle processes one event and returns the error that was shown to the
// user, if any. It never panics.
func (c *Controller) Handle(ctx context.Context, ev Event) (err error) {
	t := &turn{
		ev:     ev,
		target: ev.MessageID,
		log: logx.With().
			Str("event_id", uuid.NewString()).
			Int64("user_id", ev.UserID).
			Str("event", ev.label()).
			Logger(),
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("event handler panicked")
			err = errx.New(errx.KindUnknown, fmt.Errorf("panic: %v", r), errx.SystemErrorMessage)
			c.present(ctx, t, msgErrSystem, nil)
		}
		metrics.ObserveEvent(ev.label(), errx.Outcome(err))
	}()

	t.log.Debug().Msg("handling event")

	switch ev.Kind {
	case EventPhoto:
		err = c.onPhoto(ctx, t)
	case EventText:
		err = c.onText(ctx, t)
	case EventButton:
		err = c.onButton(ctx, t)
	case EventCommand:
		err = c.onCommand(ctx, t)
	default:
		err = errx.Newf(errx.KindInvalidTransition, "unknown event", "unknown event kind %q", ev.Kind)
	}
	if err != nil {
		t.log.Error().Err(err).Str("kind", errx.KindOf(err).String()).Msg("event failed")
		c.present(ctx, t, errorText(err), nil)
	}
	return err
}

// present sends output and only logs delivery failures.
func (c *Controller) present(ctx context.Context, t *turn, text string, buttons []Button) {
	if err := t.reply(ctx, c, text, buttons); err != nil {
		t.log.Error().Err(err).Msg("failed to deliver message")
	}
}

// leaveEditing returns an editing session to the decision step.
func (c *Controller) leaveEditing(ctx context.Context, sess *model.Session) error {
	if sess.State != model.StateEditingText {
		return nil
	}
	sess.State = model.StateAwaitingDecision
	return c.sessions.SetState(ctx, sess.UserID, model.StateAwaitingDecision)
}

func (c *Controller) onPhoto(ctx context.Context, t *turn) error {
	userID := t.ev.UserID
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.leaveEditing(ctx, sess); err != nil {
		return err
	}

	if !c.limiter.Allow(userID) {
		return errx.Newf(errx.KindRateLimited, "photo rate limited", "user %d exceeded the photo budget", userID)
	}
	if err := c.presenter.Typing(ctx, userID); err != nil {
		t.log.Debug().Err(err).Msg("typing indicator failed")
	}

	image := t.ev.Image
	if image == nil && t.ev.LoadImage != nil {
		image, err = t.ev.LoadImage(ctx)
		if err != nil {
			return errx.New(errx.KindRecognitionUnavailable, err, "download photo")
		}
	}

	if id, err := c.presenter.SendText(ctx, userID, msgRecognizing, nil); err != nil {
		t.log.Error().Err(err).Msg("failed to deliver progress message")
	} else {
		t.target = id
	}

	text, err := c.recognizer.Recognize(ctx, image)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errx.New(errx.KindRecognitionEmpty, errors.New("recognized text is blank"), "no text recognized")
	}

	return c.acceptText(ctx, t, text)
}

// acceptText replaces the held text and asks the user what to do next.
func (c *Controller) acceptText(ctx context.Context, t *turn, text string) error {
	userID := t.ev.UserID
	if err := c.sessions.SetRecognizedText(ctx, userID, text); err != nil {
		return err
	}
	if err := c.sessions.SetState(ctx, userID, model.StateAwaitingDecision); err != nil {
		return err
	}
	c.present(ctx, t, previewText(text, c.cfg.PreviewLen), decisionButtons)
	return nil
}

func (c *Controller) onText(ctx context.Context, t *turn) error {
	sess, err := c.sessions.Get(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	if sess.State != model.StateEditingText {
		c.present(ctx, t, msgSendPhotoHint, nil)
		return nil
	}
	text := strings.TrimSpace(t.ev.Text)
	if text == "" {
		return errx.New(errx.KindRecognitionEmpty, errEmptyEdit, "edited text is empty")
	}
	return c.acceptText(ctx, t, text)
}

func (c *Controller) onButton(ctx context.Context, t *turn) error {
	sess, err := c.sessions.Get(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	if err := c.leaveEditing(ctx, sess); err != nil {
		return err
	}

	switch t.ev.CallbackID {
	case CallbackAnalyze:
		return c.analyze(ctx, t, sess)
	case CallbackEdit:
		return c.startEditing(ctx, t, sess)
	case CallbackCancel:
		if err := c.sessions.Clear(ctx, sess.UserID); err != nil {
			return err
		}
		c.present(ctx, t, msgCancelled, nil)
		return nil
	case CallbackRecipes:
		return c.recipes(ctx, t, sess)
	case CallbackBack:
		return c.backToAnalysis(ctx, t, sess)
	default:
		return errx.Newf(errx.KindInvalidTransition, "unknown button", "unknown callback id %q", t.ev.CallbackID)
	}
}

func (c *Controller) analyze(ctx context.Context, t *turn, sess *model.Session) error {
	if !sess.HasText() {
		return errx.New(errx.KindSessionStateMissing, errors.New("no recognized text"), "nothing to analyze")
	}
	if sess.State != model.StateAwaitingDecision {
		return errx.Newf(errx.KindInvalidTransition, "analyze not allowed", "analyze in state %s", sess.State)
	}

	c.present(ctx, t, msgAnalyzing, nil)
	analysis, err := c.analyzer.AnalyzeComposition(ctx, sess.RecognizedText)
	if err != nil {
		return err
	}
	if err := c.sessions.SetAnalysis(ctx, sess.UserID, analysis); err != nil {
		return err
	}
	if err := c.sessions.SetState(ctx, sess.UserID, model.StateAnalyzed); err != nil {
		return err
	}

	c.record(ctx, t, sess.RecognizedText, analysis)
	c.present(ctx, t, analysisText(analysis), analysisButtons)
	return nil
}

// record appends the analysis to history. A failure is logged and counted
// but never hides the analysis from the user.
func (c *Controller) record(ctx context.Context, t *turn, composition string, analysis *model.StructuredAnalysis) {
	rec, err := model.NewHistoryRecord(t.ev.UserID, t.ev.Username, composition, analysis, c.cfg.ExcerptLen)
	if err == nil {
		_, err = c.history.Append(ctx, rec)
	}
	if err != nil {
		t.log.Error().Err(err).Str("kind", errx.KindPersistence.String()).Msg("failed to record analysis in history")
	}
}

func (c *Controller) startEditing(ctx context.Context, t *turn, sess *model.Session) error {
	if !sess.HasText() {
		return errx.New(errx.KindSessionStateMissing, errors.New("no recognized text"), "nothing to edit")
	}
	if sess.State != model.StateAwaitingDecision {
		return errx.Newf(errx.KindInvalidTransition, "edit not allowed", "edit in state %s", sess.State)
	}
	if err := c.sessions.SetState(ctx, sess.UserID, model.StateEditingText); err != nil {
		return err
	}
	c.present(ctx, t, msgEditPrompt, nil)
	return nil
}

func (c *Controller) recipes(ctx context.Context, t *turn, sess *model.Session) error {
	if sess.Analysis == nil {
		return errx.New(errx.KindSessionStateMissing, errors.New("no analysis"), "nothing to analyze")
	}

	recipes := sess.Recipes
	if recipes == nil {
		c.present(ctx, t, msgGeneratingRecipes, nil)
		var err error
		recipes, err = c.analyzer.SuggestRecipes(ctx, sess.RecognizedText)
		if err != nil {
			return err
		}
		if err := c.sessions.SetRecipes(ctx, sess.UserID, recipes); err != nil {
			return err
		}
	}
	if err := c.sessions.SetState(ctx, sess.UserID, model.StateViewingRecipes); err != nil {
		return err
	}
	c.present(ctx, t, recipesText(recipes), recipesButtons)
	return nil
}

func (c *Controller) backToAnalysis(ctx context.Context, t *turn, sess *model.Session) error {
	if sess.Analysis == nil {
		return errx.New(errx.KindSessionStateMissing, errNothingToShow, "nothing to show")
	}
	if err := c.sessions.SetState(ctx, sess.UserID, model.StateAnalyzed); err != nil {
		return err
	}
	c.present(ctx, t, analysisText(sess.Analysis), analysisButtons)
	return nil
}

func (c *Controller) onCommand(ctx context.Context, t *turn) error {
	userID := t.ev.UserID
	switch t.ev.Command {
	case CommandStart:
		c.present(ctx, t, welcomeText(t.ev.Username), nil)
	case CommandHelp:
		c.present(ctx, t, helpText, nil)
	case CommandHistory:
		records, err := c.history.ListRecent(ctx, userID, c.cfg.HistoryLimit)
		if err != nil {
			return err
		}
		c.present(ctx, t, historyText(records), nil)
	case CommandClear:
		n, err := c.history.Clear(ctx, userID)
		if err != nil {
			return err
		}
		t.log.Info().Int64("removed", n).Msg("history cleared")
		c.present(ctx, t, clearedText(n), nil)
	default:
		c.present(ctx, t, msgUnknownCommand, nil)
	}
	return nil
}
