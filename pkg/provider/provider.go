package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Reply texts sent back to the chat user. The bot answers in Traditional Chinese.
const (
	Persona                = "你是一個友善、有幫助的 LINE 機器人助手。請用簡潔、自然的繁體中文回覆。"
	MissingKeyReply        = "OpenAI API key 未設定，請在環境變數設定 OPENAI_API_KEY。"
	CredentialInvalidReply = "OpenAI API 金鑰無效或未設定，請檢查環境變數。"
	EmptyReply             = "抱歉，我暫時無法產生回覆。"

	errorReplyPrefix   = "發生錯誤："
	errorReplyFallback = "請稍後再試"
)

// Completer turns one user message into generated reply text.
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// Kind is the closed set of completion failure classes.
type Kind string

const (
	KindCredentialInvalid Kind = "credential_invalid"
	KindTransient         Kind = "transient"
	KindUnknown           Kind = "unknown"
)

// Error is a classified completion failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Detail     string
	Err        error
}

// NewError classifies err using the provider's HTTP status (0 when none).
func NewError(err error, statusCode int) *Error {
	return &Error{
		Kind:       classify(statusCode, err),
		StatusCode: statusCode,
		Err:        err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if detail := strings.TrimSpace(e.Detail); detail != "" {
		return detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Classify returns the failure kind of err, or "" for a nil error.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var providerErr *Error
	if errors.As(err, &providerErr) && providerErr.Kind != "" {
		return providerErr.Kind
	}

	return classify(0, err)
}

func classify(statusCode int, err error) Kind {
	message := ""
	if err != nil {
		message = err.Error()
	}

	switch {
	case statusCode == http.StatusUnauthorized || strings.Contains(message, "API key"):
		return KindCredentialInvalid
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusConflict,
		statusCode == http.StatusTooManyRequests,
		statusCode >= http.StatusInternalServerError:
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindUnknown
}

// ReplyText renders the user-facing message for a completion failure.
func ReplyText(err error) string {
	if Classify(err) == KindCredentialInvalid {
		return CredentialInvalidReply
	}

	detail := ""
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	if detail == "" {
		detail = errorReplyFallback
	}

	return errorReplyPrefix + detail
}
