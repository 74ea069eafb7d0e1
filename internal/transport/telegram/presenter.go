package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/labelspy/server/internal/agent/conversations"
	logx "github.com/labelspy/server/pkg/logger"
)

// keyboard lays out one button per row.
func keyboard(buttons []conversations.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.CallbackID),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func (b *Bot) SendText(_ context.Context, userID int64, text string, buttons []conversations.Button) (int, error) {
	msg := tgbotapi.NewMessage(userID, text)
	if kb := keyboard(buttons); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (b *Bot) EditMessage(ctx context.Context, userID int64, messageID int, text string, buttons []conversations.Button) (int, error) {
	if messageID == 0 {
		return b.SendText(ctx, userID, text, buttons)
	}

	edit := tgbotapi.NewEditMessageText(userID, messageID, text)
	edit.ReplyMarkup = keyboard(buttons)
	if _, err := b.api.Send(edit); err != nil {
		if isNotModified(err) {
			return messageID, nil
		}
		logx.Warn().Err(err).Int64("user_id", userID).Int("message_id", messageID).Msg("edit failed, sending new message")
		return b.SendText(ctx, userID, text, buttons)
	}
	return messageID, nil
}

func (b *Bot) Typing(_ context.Context, userID int64) error {
	if _, err := b.api.Request(tgbotapi.NewChatAction(userID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// isNotModified reports Telegram's rejection of an edit with identical content.
func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

var _ conversations.Presenter = (*Bot)(nil)
