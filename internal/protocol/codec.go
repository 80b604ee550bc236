package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/store"
)

// Encode serializes a Message for transmission.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	return data, nil
}

// Decode deserializes and validates a Message.
func Decode(data []byte) (*Message, error) {
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Op {
	case OpInsert:
		if msg.Record == nil {
			return nil, fmt.Errorf("%s: missing record", msg.Op)
		}
	case OpUpdate:
		if msg.Mutation == nil || msg.Code == "" {
			return nil, fmt.Errorf("%s: missing code or mutation", msg.Op)
		}
	case OpGet, OpSubscribe:
		if msg.Code == "" {
			return nil, fmt.Errorf("%s: missing code", msg.Op)
		}
	case OpUnsubscribe, OpResult, OpError:
	case OpSnapshot:
		if msg.Record == nil || msg.Sub == 0 {
			return nil, fmt.Errorf("%s: missing record or subscription", msg.Op)
		}
	default:
		return nil, fmt.Errorf("unknown op %q", msg.Op)
	}
	return &msg, nil
}

// ErrorKind classifies a failed request so the client can rebuild a
// sentinel error that errors.Is understands.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindExists           ErrorKind = "exists"
	KindAlreadySet       ErrorKind = "already_set"
	KindStatusRegression ErrorKind = "status_regression"
	KindClosed           ErrorKind = "closed"
	KindInvalidStatus    ErrorKind = "invalid_status"
	KindBadRequest       ErrorKind = "bad_request"
	KindInternal         ErrorKind = "internal"
)

var kinds = []struct {
	kind ErrorKind
	err  error
}{
	{KindNotFound, store.ErrNotFound},
	{KindExists, store.ErrExists},
	{KindAlreadySet, record.ErrAlreadySet},
	{KindStatusRegression, record.ErrStatusRegression},
	{KindClosed, record.ErrClosed},
	{KindInvalidStatus, record.ErrInvalidStatus},
}

// KindOf returns the wire classification of err.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ErrorFrom rebuilds an error from an OpError message.
func ErrorFrom(msg *Message) error {
	for _, k := range kinds {
		if k.kind == msg.Kind {
			return fmt.Errorf("relay: %w (%s)", k.err, msg.Error)
		}
	}
	return fmt.Errorf("relay: %s", msg.Error)
}
