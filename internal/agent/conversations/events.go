package conversations

import (
	"context"

	"github.com/labelspy/server/internal/agent/model"
)

type EventKind string

const (
	EventPhoto   EventKind = "photo"
	EventText    EventKind = "text"
	EventButton  EventKind = "button"
	EventCommand EventKind = "command"
)

// Callback ids carried by inline buttons.
const (
	CallbackAnalyze = "analyze"
	CallbackEdit    = "edit"
	CallbackCancel  = "cancel"
	CallbackRecipes = "recipes"
	CallbackBack    = "back_to_analysis"
)

// Command names without the leading slash.
const (
	CommandStart   = "start"
	CommandHelp    = "help"
	CommandHistory = "history"
	CommandClear   = "clear"
)

// Event is one inbound chat event. Only the fields of its Kind are set.
type Event struct {
	Kind     EventKind
	UserID   int64
	Username string

	// Image holds the photo bytes. When nil, LoadImage is used to fetch them
	// inside the user's turn.
	Image     []byte
	LoadImage func(ctx context.Context) ([]byte, error)

	Text       string
	CallbackID string
	Command    string

	// MessageID is the message carrying the pressed button. Replies to the
	// button edit that message.
	MessageID int
}

// label is the bounded metrics label of the event.
func (e Event) label() string {
	switch e.Kind {
	case EventButton:
		switch e.CallbackID {
		case CallbackAnalyze, CallbackEdit, CallbackCancel, CallbackRecipes, CallbackBack:
			return "button_" + e.CallbackID
		}
		return "button_unknown"
	case EventCommand:
		switch e.Command {
		case CommandStart, CommandHelp, CommandHistory, CommandClear:
			return "command_" + e.Command
		}
		return "command_unknown"
	case EventPhoto, EventText:
		return string(e.Kind)
	default:
		return "unknown"
	}
}

// Button is one inline choice. Buttons are presented in order.
type Button struct {
	Label      string
	CallbackID string
}

// Presenter delivers output to the chat transport.
type Presenter interface {
	// SendText sends a new message and returns its id.
	SendText(ctx context.Context, userID int64, text string, buttons []Button) (int, error)
	// EditMessage replaces the content of messageID. When the message cannot
	// be edited a new one is sent. It returns the id now holding the text.
	EditMessage(ctx context.Context, userID int64, messageID int, text string, buttons []Button) (int, error)
	// Typing shows a short-lived "working" indicator.
	Typing(ctx context.Context, userID int64) error
}

type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

type Analyzer interface {
	AnalyzeComposition(ctx context.Context, text string) (*model.StructuredAnalysis, error)
	SuggestRecipes(ctx context.Context, text string) (*model.RecipeSet, error)
}
