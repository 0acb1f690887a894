// Package notify is the operator alerting sink: fatal margin shutdown, grid
// resets, and breakout entries/failures (spec §7, §9).
//
// Grounded on notification_service.go's NewNotificationService/Notify: a
// Telegram bot read from TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID, degrading to
// a no-op when unset rather than failing startup — every call site in the
// teacher nil-checks the notifier for the same reason.
package notify

import (
	"context"
	"log"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sink is the narrow contract the engine depends on.
type Sink interface {
	Notify(ctx context.Context, msg string) error
}

// NoOp discards every notification; used when Telegram is not configured.
type NoOp struct{}

func (NoOp) Notify(context.Context, string) error { return nil }

// Telegram sends alerts via a Telegram bot.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewFromEnv builds a Sink from TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID,
// returning a NoOp when the token is absent.
func NewFromEnv() Sink {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("gridsentinel: TELEGRAM_BOT_TOKEN not set, notifications disabled")
		return NoOp{}
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("gridsentinel: failed to init telegram bot: %v", err)
		return NoOp{}
	}

	var chatID int64
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		chatID, _ = strconv.ParseInt(v, 10, 64)
	}
	if chatID == 0 {
		log.Println("gridsentinel: TELEGRAM_CHAT_ID not set, notifications disabled")
		return NoOp{}
	}

	return &Telegram{bot: bot, chatID: chatID}
}

// Notify sends msg to the configured chat and returns the send error; the
// engine's call sites discard it, so a failed alert never stops a pass.
func (t *Telegram) Notify(_ context.Context, msg string) error {
	cfg := tgbotapi.NewMessage(t.chatID, msg)
	cfg.ParseMode = "Markdown"
	_, err := t.bot.Send(cfg)
	return err
}
