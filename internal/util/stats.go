package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Session stats
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts room-session activity: peer connections coming and going,
// signaling envelopes in both directions, and inbound media volume.
type Stats struct {
	PeersUp     atomic.Int64 // cumulative count of peer entries created
	PeersDown   atomic.Int64 // cumulative count of peer entries removed
	SignalsSent atomic.Int64 // cumulative signaling envelopes published
	SignalsRecv atomic.Int64 // cumulative signaling envelopes applied
	MediaBytes  atomic.Int64 // cumulative RTP payload bytes received
	MediaPkts   atomic.Int64 // cumulative RTP packets received
}

func (s *Stats) AddPeer()       { s.PeersUp.Add(1) }
func (s *Stats) RemovePeer()    { s.PeersDown.Add(1) }
func (s *Stats) AddSignalSent() { s.SignalsSent.Add(1) }
func (s *Stats) AddSignalRecv() { s.SignalsRecv.Add(1) }
func (s *Stats) AddMediaRecv(n int) {
	s.MediaBytes.Add(int64(n))
	s.MediaPkts.Add(1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartReporter launches a goroutine that logs session statistics every
// 10 seconds while anything changed. It stops when ctx is cancelled.
func (s *Stats) StartReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevBytes, prevSig, prevUp, prevDown int64
		for {
			select {
			case <-ticker.C:
				up := s.PeersUp.Load()
				down := s.PeersDown.Load()
				sig := s.SignalsSent.Load() + s.SignalsRecv.Load()
				bytes := s.MediaBytes.Load()

				rate := float64(bytes-prevBytes) / 10.0
				if up != prevUp || down != prevDown || sig != prevSig || rate > 10 {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"Media: %s/s | Signals: %3d | Peers: %2d↑ %2d↓",
						formatBytes(rate), sig-prevSig, up-prevUp, down-prevDown))
				}

				prevBytes = bytes
				prevSig = sig
				prevUp = up
				prevDown = down

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
