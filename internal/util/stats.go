package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation/media counter.
var Stats = &stats{}

type stats struct {
	CandidatesSent    atomic.Int64 // local candidates appended to the record
	CandidatesApplied atomic.Int64 // remote candidates handed to the transport
	CandidatesSkipped atomic.Int64 // remote candidates rejected by the deduplicator
	Snapshots         atomic.Int64 // change notifications processed
	BytesSent         atomic.Int64 // media bytes written to local tracks
	BytesRecv         atomic.Int64 // media bytes read from remote tracks
}

func (s *stats) AddCandidateSent()    { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateApplied() { s.CandidatesApplied.Add(1) }
func (s *stats) AddCandidateSkipped() { s.CandidatesSkipped.Add(1) }
func (s *stats) AddSnapshot()         { s.Snapshots.Add(1) }
func (s *stats) AddSent(n int)        { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)        { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput every
// 10 seconds while it is non-trivial. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0

				if inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, Stats.counters()))
				}

				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// counterSnapshot is a point-in-time copy of the signaling counters.
type counterSnapshot struct {
	sent, applied, skipped, snapshots int64
}

func (s *stats) counters() counterSnapshot {
	return counterSnapshot{
		sent:      s.CandidatesSent.Load(),
		applied:   s.CandidatesApplied.Load(),
		skipped:   s.CandidatesSkipped.Load(),
		snapshots: s.Snapshots.Load(),
	}
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, c counterSnapshot) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | ICE: %2d↑ %2d↓ %2d dup | Rec: %d",
		formatBytes(inS),
		formatBytes(outS),
		c.sent,
		c.applied,
		c.skipped,
		c.snapshots,
	)
}
