// Package record defines the shared session record: the only state the two
// endpoints have in common, and the only schema that crosses the relay.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse lifecycle of a session record.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusConnected Status = "connected"
	StatusClosed    Status = "closed"
)

// rank orders statuses; a record never moves to a lower rank.
func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusConnected:
		return 2
	case StatusClosed:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return s.rank() > 0 }

// Role is one of the two fixed negotiation roles.
type Role string

const (
	RoleOfferer  Role = "offerer"  // initiates the media share ("sender")
	RoleAnswerer Role = "answerer" // waits for the share ("receiver")
)

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleOfferer {
		return RoleAnswerer
	}
	return RoleOfferer
}

// Description is an opaque session description (SDP offer or answer).
type Description struct {
	Type string `json:"type" bson:"type"`
	SDP  string `json:"sdp" bson:"sdp"`
}

// Candidate is an opaque connectivity candidate, shaped like the browser's
// RTCIceCandidateInit so that records stay interchangeable with web peers.
type Candidate struct {
	Candidate        string  `json:"candidate" bson:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" bson:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" bson:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" bson:"usernameFragment,omitempty"`
}

// Record is the session record keyed by Code.
type Record struct {
	ID                 string       `json:"id" bson:"_id"`
	Code               string       `json:"code" bson:"code"`
	Offer              *Description `json:"offer" bson:"offer"`
	Answer             *Description `json:"answer" bson:"answer"`
	SenderCandidates   []Candidate  `json:"sender_ice_candidates" bson:"sender_ice_candidates"`
	ReceiverCandidates []Candidate  `json:"receiver_ice_candidates" bson:"receiver_ice_candidates"`
	Status             Status       `json:"status" bson:"status"`
	CreatedAt          time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" bson:"updated_at"`
	Revision           uint64       `json:"revision" bson:"revision"`
}

// New returns a fresh waiting record for code.
func New(code string, now time.Time) *Record {
	return &Record{
		ID:                 uuid.NewString(),
		Code:               code,
		SenderCandidates:   []Candidate{},
		ReceiverCandidates: []Candidate{},
		Status:             StatusWaiting,
		CreatedAt:          now,
		UpdatedAt:          now,
		Revision:           1,
	}
}

// Open reports whether the record still takes part in a negotiation.
func (r *Record) Open() bool { return r.Status != StatusClosed }

// DescriptionFrom returns the description written by role, if any.
func (r *Record) DescriptionFrom(role Role) *Description {
	if role == RoleOfferer {
		return r.Offer
	}
	return r.Answer
}

// CandidatesFrom returns the candidate sequence written by role.
func (r *Record) CandidatesFrom(role Role) []Candidate {
	if role == RoleOfferer {
		return r.SenderCandidates
	}
	return r.ReceiverCandidates
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Offer != nil {
		d := *r.Offer
		out.Offer = &d
	}
	if r.Answer != nil {
		d := *r.Answer
		out.Answer = &d
	}
	out.SenderCandidates = append([]Candidate{}, r.SenderCandidates...)
	out.ReceiverCandidates = append([]Candidate{}, r.ReceiverCandidates...)
	return &out
}
