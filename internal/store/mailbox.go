package store

import "github.com/1ureka/mirror/internal/record"

// Mailbox is a single-slot, latest-wins snapshot queue. A snapshot that the
// reader has not taken yet is replaced by a newer one; since snapshots are
// full records nothing is lost, and order is preserved.
//
// Put and Close must be serialized by the caller (one producer goroutine or
// an external lock).
type Mailbox struct {
	ch chan *record.Record
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan *record.Record, 1)}
}

// Put enqueues rec, evicting an unread older snapshot.
func (m *Mailbox) Put(rec *record.Record) {
	select {
	case m.ch <- rec:
		return
	default:
	}
	select {
	case <-m.ch:
	default:
	}
	m.ch <- rec
}

// C is the receive side.
func (m *Mailbox) C() <-chan *record.Record { return m.ch }

// Close ends the feed; C is closed after the last snapshot is read.
func (m *Mailbox) Close() { close(m.ch) }
