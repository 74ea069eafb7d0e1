// Package telegram adapts the Telegram Bot API to conversation events and
// presents controller output as messages with inline keyboards.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/labelspy/server/internal/agent/conversations"
	logx "github.com/labelspy/server/pkg/logger"
)

// msgBusy answers events the dispatcher could not accept.
const msgBusy = "⏳ Still working on your previous request. Please try again in a moment."

type Config struct {
	Token       string `envconfig:"TELEGRAM_TOKEN" required:"true"`
	PollTimeout int    `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"60"`
	Debug       bool   `envconfig:"TELEGRAM_DEBUG" default:"false"`
}

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Submitter accepts events for processing, normally a conversations.Dispatcher.
type Submitter interface {
	Submit(ev conversations.Event) bool
}

// Bot receives updates by long polling and implements conversations.Presenter.
// Only private chats are served, so a user id is also the chat id.
type Bot struct {
	api           botAPI
	submitter     Submitter
	httpClient    *http.Client
	maxImageBytes int64
	pollTimeout   int
}

// NewBotAPI authorises the token against Telegram.
func NewBotAPI(cfg Config) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = cfg.Debug
	logx.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")
	return api, nil
}

func NewBot(api botAPI, cfg Config, maxImageBytes int64) *Bot {
	return &Bot{
		api:           api,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxImageBytes: maxImageBytes,
		pollTimeout:   cfg.PollTimeout,
	}
}

// SetSubmitter connects the bot to the event consumer. The presenter and
// the dispatcher depend on each other, so this is wired after construction.
func (b *Bot) SetSubmitter(s Submitter) {
	b.submitter = s
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate maps one update to an event and submits it. A rejected
// event is answered with a busy message.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			logx.Warn().Err(err).Msg("failed to answer callback query")
		}
	}

	ev, ok := b.eventFromUpdate(update)
	if !ok {
		return
	}
	if b.submitter != nil && b.submitter.Submit(ev) {
		return
	}
	logx.Warn().Int64("user_id", ev.UserID).Str("kind", string(ev.Kind)).Msg("event not accepted")
	if _, err := b.SendText(ctx, ev.UserID, msgBusy, nil); err != nil {
		logx.Error().Err(err).Int64("user_id", ev.UserID).Msg("failed to deliver busy message")
	}
}

func (b *Bot) eventFromUpdate(update tgbotapi.Update) (conversations.Event, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil || !cb.Message.Chat.IsPrivate() {
			return conversations.Event{}, false
		}
		return conversations.Event{
			Kind:       conversations.EventButton,
			UserID:     cb.From.ID,
			Username:   displayName(cb.From),
			CallbackID: cb.Data,
			MessageID:  cb.Message.MessageID,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return conversations.Event{}, false
	}
	ev := conversations.Event{UserID: msg.From.ID, Username: displayName(msg.From)}

	switch {
	case msg.IsCommand():
		ev.Kind = conversations.EventCommand
		ev.Command = strings.ToLower(msg.Command())
	case len(msg.Photo) > 0:
		photo, ok := pickPhoto(msg.Photo, b.maxImageBytes)
		if !ok {
			return conversations.Event{}, false
		}
		ev.Kind = conversations.EventPhoto
		ev.LoadImage = b.loader(photo.FileID)
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		ev.Kind = conversations.EventPhoto
		ev.LoadImage = b.loader(msg.Document.FileID)
	case msg.Text != "":
		ev.Kind = conversations.EventText
		ev.Text = msg.Text
	default:
		return conversations.Event{}, false
	}
	return ev, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// pickPhoto returns the largest size that fits the limit. Sizes come
// smallest first. Unknown sizes are accepted and checked on download.
func pickPhoto(sizes []tgbotapi.PhotoSize, limit int64) (tgbotapi.PhotoSize, bool) {
	for i := len(sizes) - 1; i >= 0; i-- {
		if limit <= 0 || sizes[i].FileSize == 0 || int64(sizes[i].FileSize) <= limit {
			return sizes[i], true
		}
	}
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	return sizes[0], true
}

func (b *Bot) loader(fileID string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		return b.download(ctx, fileID)
	}
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	body := io.Reader(resp.Body)
	if b.maxImageBytes > 0 {
		body = io.LimitReader(resp.Body, b.maxImageBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if b.maxImageBytes > 0 && int64(len(data)) > b.maxImageBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", b.maxImageBytes)
	}
	return data, nil
}
