package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Sender posts replies with the Bot API. A nil *Sender is valid and reports
// itself unconfigured.
type Sender struct {
	bot *telego.Bot
}

// NewSender returns a nil Sender when token is blank.
func NewSender(token string, opts ...telego.BotOption) (*Sender, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Sender{bot: bot}, nil
}

func (s *Sender) Configured() bool {
	return s != nil && s.bot != nil
}

// Reply sends text to the chat identified by replyToken.
func (s *Sender) Reply(ctx context.Context, replyToken string, text string) error {
	if !s.Configured() {
		return nil
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(replyToken), 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", replyToken, err)
	}

	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}
