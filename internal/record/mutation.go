package record

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadySet is returned when a write-once field (offer, answer) is
	// written a second time.
	ErrAlreadySet = errors.New("field already set")

	// ErrStatusRegression is returned for a status change that moves
	// backwards, e.g. connected → waiting or out of closed.
	ErrStatusRegression = errors.New("status regression")

	// ErrClosed is returned when negotiation content is written to a
	// closed record.
	ErrClosed = errors.New("session closed")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")
)

// Mutation is a field-level delta against a Record. Offer and Answer are
// compare-and-set from absent, candidate slices are appended, Status must
// move forward. Zero-valued fields are left untouched.
type Mutation struct {
	Offer              *Description `json:"offer,omitempty"`
	Answer             *Description `json:"answer,omitempty"`
	SenderCandidates   []Candidate  `json:"sender_ice_candidates,omitempty"`
	ReceiverCandidates []Candidate  `json:"receiver_ice_candidates,omitempty"`
	Status             Status       `json:"status,omitempty"`
}

// Empty reports whether m changes nothing.
func (m Mutation) Empty() bool {
	return m.Offer == nil && m.Answer == nil &&
		len(m.SenderCandidates) == 0 && len(m.ReceiverCandidates) == 0 &&
		m.Status == ""
}

// Apply validates m against r and, if every part is admissible, applies all
// of it. On error r is left untouched. changed is false when m was a no-op
// (e.g. re-asserting the current status); updated_at and revision are only
// bumped on a real change.
func (m Mutation) Apply(r *Record, now time.Time) (changed bool, err error) {
	if m.Status != "" && !m.Status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, m.Status)
	}

	content := m.Offer != nil || m.Answer != nil ||
		len(m.SenderCandidates) > 0 || len(m.ReceiverCandidates) > 0
	if content && r.Status == StatusClosed {
		return false, ErrClosed
	}
	if m.Offer != nil && r.Offer != nil {
		return false, fmt.Errorf("%w: offer", ErrAlreadySet)
	}
	if m.Answer != nil && r.Answer != nil {
		return false, fmt.Errorf("%w: answer", ErrAlreadySet)
	}
	if m.Status != "" && m.Status.rank() < r.Status.rank() {
		return false, fmt.Errorf("%w: %s → %s", ErrStatusRegression, r.Status, m.Status)
	}

	if m.Offer != nil {
		d := *m.Offer
		r.Offer = &d
		changed = true
	}
	if m.Answer != nil {
		d := *m.Answer
		r.Answer = &d
		changed = true
	}
	if len(m.SenderCandidates) > 0 {
		r.SenderCandidates = append(r.SenderCandidates, m.SenderCandidates...)
		changed = true
	}
	if len(m.ReceiverCandidates) > 0 {
		r.ReceiverCandidates = append(r.ReceiverCandidates, m.ReceiverCandidates...)
		changed = true
	}
	if m.Status != "" && m.Status != r.Status {
		r.Status = m.Status
		changed = true
	}

	if changed {
		r.UpdatedAt = now
		r.Revision++
	}
	return changed, nil
}

// AppendCandidate returns the mutation that appends c to role's sequence.
func AppendCandidate(role Role, c Candidate) Mutation {
	if role == RoleOfferer {
		return Mutation{SenderCandidates: []Candidate{c}}
	}
	return Mutation{ReceiverCandidates: []Candidate{c}}
}

// SetDescription returns the mutation that writes role's description.
func SetDescription(role Role, d Description) Mutation {
	if role == RoleOfferer {
		return Mutation{Offer: &d}
	}
	return Mutation{Answer: &d}
}
