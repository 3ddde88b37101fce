package mirror

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API base URL (tests, self-hosted API servers).
	APIURL string
}

// Telegram sends mirror messages through the Bot API. It never polls for
// updates; the bot is send-only.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	opts *tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if cfg.ThreadID > 0 {
		opts.ThreadID = cfg.ThreadID
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, opts: opts}, nil
}

// Send posts text. telebot has no per-call context, so ctx only short-circuits
// calls that are already cancelled.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, t.opts)
	return err
}
