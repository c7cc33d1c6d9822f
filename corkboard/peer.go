package corkboard

// PeerState is the finite state machine a discovered peer moves through.
// See spec §4.5 for the full transition table; Error is terminal and the
// watchdog never revives it.
type PeerState int

const (
	PeerFresh PeerState = iota
	PeerConnecting
	PeerActiveClaimed   // Active(true): held by a worker's local connection
	PeerActiveUnclaimed // Active(false): connected but up for grabs
	PeerInactive
	PeerSuperceded
	PeerError
)

func (s PeerState) String() string {
	switch s {
	case PeerFresh:
		return "fresh"
	case PeerConnecting:
		return "connecting"
	case PeerActiveClaimed:
		return "active(true)"
	case PeerActiveUnclaimed:
		return "active(false)"
	case PeerInactive:
		return "inactive"
	case PeerSuperceded:
		return "superceded"
	case PeerError:
		return "error"
	default:
		return "unknown"
	}
}

// Benchmark records one completed piece download's size and wall time,
// the raw material for a peer's running performance estimate.
type Benchmark struct {
	Bytes         int
	DurationMilli int64
}

// mbPerSecond converts a bytes/millisecond rate into MiB/s for logging,
// matching the original's MB_S conversion factor.
const mbPerSecond = 1048.576

// Peer is everything the corkboard tracks about one candidate address.
type Peer struct {
	State              PeerState
	Benchmarks         []Benchmark
	Performance        *float64 // nil until at least one benchmark recorded
	ConnectionAttempts int
}

// NewPeer returns a freshly discovered peer.
func NewPeer() *Peer {
	return &Peer{State: PeerFresh}
}

// RecordBenchmark appends a benchmark and recomputes the running mean
// bytes/ms performance figure, mirroring the Rust original's
// update_performance.
func (p *Peer) RecordBenchmark(bytes int, durationMilli int64) float64 {
	if durationMilli < 1 {
		durationMilli = 1
	}
	p.Benchmarks = append(p.Benchmarks, Benchmark{Bytes: bytes, DurationMilli: durationMilli})
	var total float64
	for _, b := range p.Benchmarks {
		total += float64(b.Bytes) / float64(b.DurationMilli)
	}
	perf := total / float64(len(p.Benchmarks))
	p.Performance = &perf
	return perf
}

// betterCandidate reports whether a ranks ahead of b for peer selection:
// present performance beats absent performance, higher performance beats
// lower, and among peers with no performance data fewer connection
// attempts wins.
func betterCandidate(a, b *Peer) bool {
	switch {
	case a.Performance != nil && b.Performance != nil:
		return *a.Performance > *b.Performance
	case a.Performance != nil:
		return true
	case b.Performance != nil:
		return false
	default:
		return a.ConnectionAttempts < b.ConnectionAttempts
	}
}
