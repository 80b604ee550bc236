package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/signaling"
)

// ErrConnectionLost is the cause recorded when the transport drops or the
// peer closes the session.
var ErrConnectionLost = errors.New("connection lost")

// ErrStopped is returned by Start and Connect when Stop ran before they
// finished. Whatever they had acquired is released.
var ErrStopped = errors.New("session stopped")

// TeardownError reports a cleanup step that failed. It is logged and never
// returned to the caller.
type TeardownError struct {
	Step string
	Err  error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown: %s: %v", e.Step, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// User-facing messages. Every failure maps to exactly one of them.
const (
	MessageInvalidCode    = "Invalid code. Check the code and try again."
	MessageConnectionLost = "Connection lost. Start a new session to reconnect."
	MessageInitFailed     = "Could not start the session. Please try again."
)

// UserMessage maps err to the message shown to the user, or "" for nil.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, code.ErrInvalid), errors.Is(err, signaling.ErrConnectFailed):
		return MessageInvalidCode
	case errors.Is(err, ErrConnectionLost):
		return MessageConnectionLost
	default:
		return MessageInitFailed
	}
}

// QRPayload is the JSON a receiver encodes into its QR code so a sender can
// join without typing the code.
func QRPayload(url, sessionCode string) (string, error) {
	b, err := json.Marshal(struct {
		URL  string `json:"url"`
		Code string `json:"code"`
	}{url, sessionCode})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
