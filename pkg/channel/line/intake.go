package line

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"linerelay/pkg/channel"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

const (
	SignatureHeader = "X-Line-Signature"

	missingSecretBody = "LINE_CHANNEL_SECRET not set"
	maxBodyBytes      = 4 << 20
)

// Intake is the LINE webhook endpoint. It acknowledges a verified delivery
// before any of its events is processed.
type Intake struct {
	secret     string
	dispatcher *channel.Dispatcher
	log        *slog.Logger
}

func NewIntake(secret string, dispatcher *channel.Dispatcher, log *slog.Logger) *Intake {
	if log == nil {
		log = slog.Default()
	}

	return &Intake{
		secret:     strings.TrimSpace(secret),
		dispatcher: dispatcher,
		log:        log.With("component", "channel.line"),
	}
}

// ServeHTTP handles POST /webhook.
func (i *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	responded := false
	defer func() {
		if recovered := recover(); recovered != nil {
			i.log.Error("Webhook handler panicked", "error", fmt.Sprint(recovered), "responded", responded)
			if !responded {
				writeText(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}
	}()

	if i.secret == "" {
		i.log.Error("Rejecting webhook, channel secret is not configured")
		writeText(w, http.StatusInternalServerError, missingSecretBody)
		responded = true
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		i.log.Warn("Failed to read webhook body", "error", err)
		writeText(w, http.StatusBadRequest, "invalid body")
		responded = true
		return
	}

	if !webhook.ValidateSignature(i.secret, r.Header.Get(SignatureHeader), body) {
		i.log.Warn("Rejecting webhook with invalid signature")
		writeText(w, http.StatusUnauthorized, "invalid signature")
		responded = true
		return
	}

	writeText(w, http.StatusOK, "OK")
	_ = http.NewResponseController(w).Flush()
	responded = true

	deliveryID := channel.DeliveryID(r.Context())
	delivery, dropped, err := DecodeDelivery(body)
	if err != nil {
		i.log.Warn("Ignoring undecodable delivery", "delivery_id", deliveryID, "error", err)
		return
	}
	if dropped > 0 {
		i.log.Warn("Skipped undecodable events", "delivery_id", deliveryID, "dropped", dropped)
	}
	if len(delivery.Events) == 0 {
		return
	}

	i.log.Info("Webhook received", "delivery_id", deliveryID, "events", len(delivery.Events))
	for _, event := range delivery.Events {
		messageType := ""
		if event.Message != nil {
			messageType = event.Message.Type
		}
		i.log.Debug("Dispatching event", "delivery_id", deliveryID, "type", event.Type, "message_type", messageType)

		i.dispatcher.Go(r.Context(), event.ToChannelEvent(deliveryID))
	}
}

// ServeProbe answers GET /webhook, which LINE infrastructure may use as a probe.
func ServeProbe(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
