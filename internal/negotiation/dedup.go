package negotiation

import (
	"strconv"
	"sync"

	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/util"
)

// Deduplicator remembers which remote candidates have been handed to the
// capability, so a candidate repeated across snapshots is applied once.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Fingerprint is the stable identity of a candidate payload.
func Fingerprint(c record.Candidate) string {
	var mid, idx, ufrag string
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		idx = strconv.Itoa(int(*c.SDPMLineIndex))
	}
	if c.UsernameFragment != nil {
		ufrag = *c.UsernameFragment
	}
	return util.Fingerprint(c.Candidate, mid, idx, ufrag)
}

// ShouldApply reports true the first time c is seen and false afterwards.
func (d *Deduplicator) ShouldApply(c record.Candidate) bool {
	fp := Fingerprint(c)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[fp]; ok {
		return false
	}
	d.seen[fp] = struct{}{}
	return true
}

// Len returns the number of fingerprints held.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset forgets every fingerprint.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]struct{})
	d.mu.Unlock()
}
