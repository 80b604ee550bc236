// Package protocol defines the JSON messages exchanged between a relay
// client and the relay server over WebSocket.
package protocol

import "github.com/1ureka/mirror/internal/record"

// Op identifies the kind of relay message.
type Op string

const (
	// Client → server requests. Each carries a client-chosen ID that the
	// matching result or error echoes back.
	OpInsert      Op = "insert"
	OpGet         Op = "get"
	OpUpdate      Op = "update"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"

	// Server → client.
	OpResult   Op = "result"
	OpError    Op = "error"
	OpSnapshot Op = "snapshot" // unsolicited, routed by Sub
)

// MaxMessageSize caps a single WebSocket frame. A record with a full SDP and
// a few dozen candidates is well under this.
const MaxMessageSize = 256 * 1024

// Message is the single envelope for every relay frame.
type Message struct {
	ID       uint64           `json:"id,omitempty"`
	Op       Op               `json:"op"`
	Code     string           `json:"code,omitempty"`
	Record   *record.Record   `json:"record,omitempty"`
	Mutation *record.Mutation `json:"mutation,omitempty"`
	Sub      uint64           `json:"sub,omitempty"`
	Error    string           `json:"error,omitempty"`
	Kind     ErrorKind        `json:"kind,omitempty"`
}
