package corkboard

import (
	"sync"
	"sync/atomic"

	"gtorrent/torrent"
)

// Corkboard is the single shared-state object a download's workers,
// watchdog, monitor, and seeder all reference: the piece table, the peer
// table, and the meta-info they were built from, behind one readers/
// writer lock. finishing is a separate atomic flag since it must be
// observable from a peer connection's per-frame read loop without taking
// the lock.
type Corkboard struct {
	mu sync.RWMutex

	Torrent *torrent.Torrent
	PeerID  string
	Port    uint16

	pieces []*Piece
	peers  map[string]*Peer

	finishing atomic.Bool
}

// New builds a Corkboard with one Piece per torrent piece-hash, all
// Unfetched, and an empty peer table.
func New(tor *torrent.Torrent, peerID string, port uint16) (*Corkboard, error) {
	pieces, err := NewPieces(tor.Pieces)
	if err != nil {
		return nil, err
	}
	return &Corkboard{
		Torrent: tor,
		PeerID:  peerID,
		Port:    port,
		pieces:  pieces,
		peers:   make(map[string]*Peer),
	}, nil
}

// Finishing reports the monotonic shutdown flag. Once true it is never
// reset (invariant 6).
func (c *Corkboard) Finishing() bool {
	return c.finishing.Load()
}

// setFinishing latches the shutdown flag. Idempotent, monotonic.
func (c *Corkboard) setFinishing() {
	c.finishing.Store(true)
}

// PieceCount returns the total number of pieces tracked.
func (c *Corkboard) PieceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pieces)
}

// allFetched reports whether every piece has reached the Fetched state.
func (c *Corkboard) allFetched() bool {
	for _, p := range c.pieces {
		if p.State != PieceFetched {
			return false
		}
	}
	return true
}

// Snapshot is a point-in-time read of peer/piece state counts, used by
// the monitor and by metrics/persistence reporting. It never mutates
// the corkboard.
type Snapshot struct {
	TotalPeers        int
	FreshPeers        int
	ConnectingPeers   int
	ActiveClaimed     int
	ActiveUnclaimed   int
	SupercededPeers   int
	ErrorPeers        int
	InactivePeers     int
	TotalPieces       int
	UnfetchedPieces   int
	InProgressPieces  int
	FetchedPieces     int
}

// Snapshot takes a read-lock and tallies peer/piece states. Purely
// diagnostic; never mutates state (spec §4.7).
func (c *Corkboard) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{TotalPeers: len(c.peers), TotalPieces: len(c.pieces)}
	for _, p := range c.peers {
		switch p.State {
		case PeerFresh:
			s.FreshPeers++
		case PeerConnecting:
			s.ConnectingPeers++
		case PeerActiveClaimed:
			s.ActiveClaimed++
		case PeerActiveUnclaimed:
			s.ActiveUnclaimed++
		case PeerSuperceded:
			s.SupercededPeers++
		case PeerError:
			s.ErrorPeers++
		case PeerInactive:
			s.InactivePeers++
		}
	}
	for _, p := range c.pieces {
		switch p.State {
		case PieceUnfetched:
			s.UnfetchedPieces++
		case PieceInProgress:
			s.InProgressPieces++
		case PieceFetched:
			s.FetchedPieces++
		}
	}
	return s
}

// Assemble concatenates every piece's bytes in piece-id order. Fails if
// any piece has not reached Fetched.
func (c *Corkboard) Assemble() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []byte
	for _, p := range c.pieces {
		if p.State != PieceFetched {
			return nil, ErrNoPieces
		}
		data, err := p.Location.Bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// FetchedBitfield returns a bitfield of every currently-Fetched piece,
// for the seeder to advertise.
func (c *Corkboard) FetchedBitfield() torrent.Bitfield {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bf := torrent.NewBitfield(len(c.pieces))
	for i, p := range c.pieces {
		if p.State == PieceFetched {
			bf.SetPiece(i)
		}
	}
	return bf
}

// PieceData returns a Fetched piece's bytes for serving to a seeder
// peer, or an error if the piece isn't Fetched yet.
func (c *Corkboard) PieceData(id int) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 || id >= len(c.pieces) {
		return nil, ErrNoPieces
	}
	p := c.pieces[id]
	if p.State != PieceFetched {
		return nil, ErrNoPieces
	}
	return p.Location.Bytes()
}

// InsertOrRefresh handles one peer-locator discovery: a previously
// unseen address is inserted Fresh; an existing address not currently
// Error, Connecting, or claimed Active is nudged back to Fresh. Unlike
// UpsertFromTracker this never marks other peers Inactive, since a
// single discovered address carries no information about the rest of
// the swarm.
func (c *Corkboard) InsertOrRefresh(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if peer, ok := c.peers[address]; ok {
		if peer.State != PeerError && peer.State != PeerConnecting && peer.State != PeerActiveClaimed {
			peer.State = PeerFresh
		}
		return
	}
	c.peers[address] = NewPeer()
}

// UpsertFromTracker applies one watchdog refresh pass: peers present in
// the new tracker batch have their attempt count reset and, unless
// Error, Connecting, or claimed Active, move to Fresh; peers absent
// from it move to Inactive; brand new addresses are inserted Fresh. A
// peer mid-handshake or held by a worker must never be handed back out
// to a second worker, so its state is left untouched here (spec
// invariant: a claimed peer is referenced by at most one worker). An
// empty batch is treated as a transient announce hiccup, not proof the
// whole swarm vanished, and is ignored.
func (c *Corkboard) UpsertFromTracker(addresses []string) {
	if len(addresses) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		seen[a] = true
	}

	for addr, peer := range c.peers {
		if peer.State == PeerError {
			continue
		}
		if seen[addr] {
			peer.ConnectionAttempts = 0
			if peer.State != PeerConnecting && peer.State != PeerActiveClaimed {
				peer.State = PeerFresh
			}
		} else {
			peer.State = PeerInactive
		}
	}

	for addr := range seen {
		if _, ok := c.peers[addr]; !ok {
			c.peers[addr] = NewPeer()
		}
	}
}
