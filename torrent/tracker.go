package torrent

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// ITracker is a single tracker connection, capable of announcing and
// returning a peer list in one call. http and udp trackers each
// implement this the way their protocol demands.
type ITracker interface {
	GetPeers(tor *Torrent, me *Peer) ([]*Peer, error)
	Announce() string
	LastCheck() int64
	NextCheck() int64
	LastError() error
	Seeders() int
	Leechers() int
}

// NewTracker builds the right ITracker implementation for an announce URL.
func NewTracker(announce string) (ITracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing announce url %q: %v", ErrTrackerFailure, announce, err)
	}
	protocol := u.Scheme
	if protocol == "" {
		protocol = "http"
	}
	switch protocol {
	case "https":
		fallthrough
	case "http":
		return NewHTTPTracker(announce), nil
	case "udp":
		return NewUDPTracker(announce), nil
	default:
		return nil, fmt.Errorf("%w: unsupported tracker protocol: %s", ErrTrackerFailure, protocol)
	}
}

// Flow tells a TrackerSet caller what to do after a Next call: keep
// pulling immediately, or back off for a while (the announce interval,
// or a retry delay after every tracker in the set failed). Wait is set
// whenever the tracker whose batch just supplied a peer has nothing
// more buffered, regardless of Done; the caller must honor it before
// calling Next again rather than re-announcing back to back.
type Flow struct {
	Wait time.Duration
	Done bool
}

// maxTrackerWait caps the back-off Next ever asks a caller to honor,
// whether derived from a tracker's reported interval or from the
// all-trackers-failed fallback.
const maxTrackerWait = 2 * time.Minute

// TrackerSet round-robins over a torrent's announce list, buffering
// each tracker's peer response and handing peers out one at a time via
// Next. Exhausting every tracker's current buffer triggers a fresh
// announce to the next tracker in the cycle; exhausting every tracker
// without finding peers returns Flow{Done: true} so the caller can fall
// back to DHT.
type TrackerSet struct {
	mu             sync.Mutex
	trackers       []ITracker
	cursor         int
	pending        []*Peer
	pendingTracker ITracker
	tor            *Torrent
	me             *Peer
}

// NewTrackerSet builds a TrackerSet from a torrent's announce list,
// skipping any announce URL whose scheme is not supported.
func NewTrackerSet(tor *Torrent, me *Peer) (*TrackerSet, error) {
	set := &TrackerSet{tor: tor, me: me}
	for _, announce := range tor.AnnounceList {
		t, err := NewTracker(announce)
		if err != nil {
			continue
		}
		set.trackers = append(set.trackers, t)
	}
	if len(set.trackers) == 0 {
		return nil, fmt.Errorf("%w: no usable trackers in announce list", ErrTrackerFailure)
	}
	return set, nil
}

// Next pulls the next candidate peer address from the set, announcing
// to the next tracker in the cycle whenever the current buffer is
// drained. It blocks only on the tracker HTTP/UDP round trip; it never
// blocks on peer I/O.
func (s *TrackerSet) Next(ctx context.Context) (*Peer, Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		peer := s.pending[0]
		s.pending = s.pending[1:]
		return peer, s.drainFlow(), nil
	}

	attempts := 0
	for attempts < len(s.trackers) {
		select {
		case <-ctx.Done():
			return nil, Flow{Done: true}, ctx.Err()
		default:
		}

		t := s.trackers[s.cursor]
		s.cursor = (s.cursor + 1) % len(s.trackers)
		attempts++

		peers, err := t.GetPeers(s.tor, s.me)
		if err != nil {
			continue
		}
		if len(peers) == 0 {
			continue
		}
		s.pending = peers[1:]
		s.pendingTracker = t
		return peers[0], s.drainFlow(), nil
	}

	// Every tracker came up empty or errored this pass: tell the caller
	// to back off before retrying, rather than spinning on a dead swarm.
	return nil, Flow{Wait: 30 * time.Second, Done: true}, nil
}

// drainFlow reports the back-off to honor once the batch just served
// from pendingTracker has nothing left buffered: the tracker's
// self-reported announce interval, capped at maxTrackerWait, or the cap
// itself if the tracker never reported one.
func (s *TrackerSet) drainFlow() Flow {
	if len(s.pending) > 0 {
		return Flow{}
	}
	t := s.pendingTracker
	if t == nil {
		return Flow{}
	}
	next := t.NextCheck()
	if next == 0 {
		return Flow{Wait: maxTrackerWait}
	}
	wait := time.Until(time.Unix(next, 0))
	if wait <= 0 {
		return Flow{}
	}
	if wait > maxTrackerWait {
		wait = maxTrackerWait
	}
	return Flow{Wait: wait}
}

// Seeders sums the most recently reported seeder count across trackers.
func (s *TrackerSet) Seeders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.trackers {
		total += t.Seeders()
	}
	return total
}

// Leechers sums the most recently reported leecher count across trackers.
func (s *TrackerSet) Leechers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.trackers {
		total += t.Leechers()
	}
	return total
}
