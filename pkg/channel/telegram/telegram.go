package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"linerelay/pkg/channel"
	"linerelay/pkg/config"

	"github.com/mymmrac/telego"
)

const (
	channelName = "telegram"

	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxBodyBytes = 1 << 20
)

// Intake receives Telegram webhook updates and hands text messages to the
// shared dispatcher.
type Intake struct {
	secret     string
	allowFrom  map[string]struct{}
	dispatcher *channel.Dispatcher
	log        *slog.Logger
}

func NewIntake(cfg config.TelegramConfig, dispatcher *channel.Dispatcher, log *slog.Logger) *Intake {
	if log == nil {
		log = slog.Default()
	}

	return &Intake{
		secret:     strings.TrimSpace(cfg.WebhookSecret),
		allowFrom:  allowFromSet(cfg.AllowFrom),
		dispatcher: dispatcher,
		log:        log.With("component", "channel.telegram"),
	}
}

// ServeHTTP handles POST /telegram/webhook.
func (i *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !i.secretMatches(r.Header.Get(SecretHeader)) {
		i.log.Warn("Rejecting update with invalid secret token")
		http.Error(w, "invalid secret token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		i.log.Warn("Failed to read update body", "error", err)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = http.NewResponseController(w).Flush()

	deliveryID := channel.DeliveryID(r.Context())

	var update telego.Update
	if err := json.Unmarshal(body, &update); err != nil {
		i.log.Warn("Ignoring undecodable update", "delivery_id", deliveryID, "error", err)
		return
	}

	event, ok := toChannelEvent(update, deliveryID)
	if !ok {
		i.log.Debug("Ignoring update without message", "update_id", update.UpdateID)
		return
	}
	if !i.senderAllowed(event.SourceID) {
		i.log.Debug("Ignoring message from unauthorized sender", "sender_id", event.SourceID)
		return
	}

	i.dispatcher.Go(r.Context(), event)
}

// secretMatches accepts every request when no webhook secret is configured.
func (i *Intake) secretMatches(got string) bool {
	if i.secret == "" {
		return true
	}

	return subtle.ConstantTimeCompare([]byte(i.secret), []byte(got)) == 1
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (i *Intake) senderAllowed(senderID string) bool {
	if len(i.allowFrom) == 0 {
		return true
	}

	_, ok := i.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// toChannelEvent maps a message update onto the platform-neutral Event. The
// chat ID doubles as the reply token.
func toChannelEvent(update telego.Update, deliveryID string) (channel.Event, bool) {
	message := update.Message
	if message == nil {
		return channel.Event{}, false
	}

	event := channel.Event{
		Channel:    channelName,
		DeliveryID: deliveryID,
		Type:       channel.EventTypeMessage,
		ReplyToken: strconv.FormatInt(message.Chat.ID, 10),
	}
	if message.Text != "" {
		event.MessageType = channel.MessageTypeText
		event.Text = message.Text
	}
	if message.From != nil {
		event.SourceID = strconv.FormatInt(message.From.ID, 10)
	}

	return event, true
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}
