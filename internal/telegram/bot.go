// Package telegram provides the Telegram bot for operator alerts and commands.
package telegram

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot wraps the Telegram bot API.
type Bot struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	handler     *CommandHandler
}

// New creates a Bot. Returns nil if token is empty (Telegram disabled).
func New(token string, adminChatID int64, handler *CommandHandler) (*Bot, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram.New: %w", err)
	}
	return &Bot{api: api, adminChatID: adminChatID, handler: handler}, nil
}

// SetHandler attaches the command handler. Call it before Start.
func (b *Bot) SetHandler(h *CommandHandler) {
	if b != nil {
		b.handler = h
	}
}

// Send sends a plain text message to the admin chat.
func (b *Bot) Send(msg string) error {
	if b == nil {
		return nil
	}
	m := tgbotapi.NewMessage(b.adminChatID, msg)
	if _, err := b.api.Send(m); err != nil {
		return fmt.Errorf("telegram.Send: %w", err)
	}
	return nil
}

// SendLimitAlert tells the operator the gateway throttled an outbox item and
// offers to retry it right away or pause sending.
func (b *Bot) SendLimitAlert(itemID, userID int, line string) error {
	if b == nil {
		return nil
	}
	m := tgbotapi.NewMessage(b.adminChatID, limitAlertText(itemID, userID, line))
	m.ParseMode = tgbotapi.ModeMarkdown
	m.ReplyMarkup = limitAlertKeyboard(itemID)
	if _, err := b.api.Send(m); err != nil {
		return fmt.Errorf("telegram.SendLimitAlert: %w", err)
	}
	return nil
}

func limitAlertText(itemID, userID int, line string) string {
	return fmt.Sprintf("⚠️ *SMS gateway rate limit*\n\nOutbox item: #%d\nAccount: %d\n`%s`\n\nChoose an action:",
		itemID, userID, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, line))
}

func limitAlertKeyboard(itemID int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Retry now", fmt.Sprintf("retry_%d", itemID)),
			tgbotapi.NewInlineKeyboardButtonData("⏹ Pause sending", "pause_all"),
		),
	)
}

// Start begins polling for updates and blocks until ctx is done. Only
// messages from adminChatID are handled.
func (b *Bot) Start(ctx context.Context) {
	if b == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				if update.CallbackQuery.Message == nil || update.CallbackQuery.Message.Chat.ID != b.adminChatID {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || update.Message.Chat.ID != b.adminChatID {
				continue
			}
			if b.handler != nil && update.Message.IsCommand() {
				reply := b.handler.Dispatch(ctx, update.Message.Command(), update.Message.CommandArguments())
				b.reply(update.Message.Chat.ID, reply)
			}
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	text := ""
	if b.handler != nil {
		text = b.handler.HandleCallback(ctx, query.Data)
	}
	ack := tgbotapi.NewCallback(query.ID, text)
	if _, err := b.api.Request(ack); err != nil {
		log.Printf("telegram: ack callback: %v", err)
	}
}

// reply sends a Markdown reply to a chat.
func (b *Bot) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("telegram.reply: %v", err)
	}
}
