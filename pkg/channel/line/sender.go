package line

import (
	"context"
	"fmt"
	"strings"

	"linerelay/pkg/config"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Sender replies through the LINE Messaging API. A nil *Sender is valid and
// reports itself unconfigured.
type Sender struct {
	api *messaging_api.MessagingApiAPI
}

// NewSender builds the Messaging API client once. It returns a nil Sender
// when no channel access token is configured.
func NewSender(cfg config.LineConfig) (*Sender, error) {
	token := strings.TrimSpace(cfg.ChannelAccessToken)
	if token == "" {
		return nil, nil
	}

	var opts []messaging_api.MessagingApiAPIOption
	if endpoint := strings.TrimSpace(cfg.APIEndpoint); endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(endpoint))
	}

	api, err := messaging_api.NewMessagingApiAPI(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize line messaging api: %w", err)
	}

	return &Sender{api: api}, nil
}

func (s *Sender) Configured() bool {
	return s != nil && s.api != nil
}

// Reply sends text as a single message for replyToken. It is a no-op on an
// unconfigured Sender; API errors are returned to the caller.
func (s *Sender) Reply(ctx context.Context, replyToken string, text string) error {
	if !s.Configured() {
		return nil
	}

	_, err := s.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}

	return nil
}
