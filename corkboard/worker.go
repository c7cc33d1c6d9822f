package corkboard

import (
	"crypto/sha1"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gtorrent/torrent"
)

// maxPeerUses bounds how many pieces may pass through a single peer
// connection before the worker drops it for a fresh one.
const maxPeerUses = 500

// emptyPeerWait is how long a worker sleeps after finding no usable
// peer before trying again.
const emptyPeerWait = 1 * time.Second

// maxConnectAttempts is the bounded retry budget on handshake failure
// before a peer transitions to Error (spec §9 open-question resolution;
// the original shipped with this commented out).
const maxConnectAttempts = 5

// peerVerdict is the result of a worker's phase-1 critical section.
type peerVerdict struct {
	kind       verdictKind
	address    string
	connection PeerConnection
	wait       time.Duration
}

type verdictKind int

const (
	verdictConnectNew verdictKind = iota
	verdictReuse
	verdictWaitThenRefetch
	verdictPromptRefetch
	verdictExit
)

// loopAction tells the worker's outer loop whether to keep the current
// connection for the next cycle (pass) or drop it and restart (continue).
type loopAction int

const (
	actionContinue loopAction = iota
	actionPass
)

// Worker runs one download goroutine's three-phase loop against a
// shared corkboard, grounded line-for-line on the original's worker
// state machine: search for a peer, pick a piece, settle the result.
type Worker struct {
	ID        int
	board     *Corkboard
	tor       *torrent.Torrent
	cfg       *Config
	log       zerolog.Logger
	connected PeerConnection
	uses      int
}

// NewWorker constructs a worker bound to a corkboard and torrent.
func NewWorker(id int, board *Corkboard, tor *torrent.Torrent, cfg *Config, log zerolog.Logger) *Worker {
	return &Worker{
		ID:    id,
		board: board,
		tor:   tor,
		cfg:   cfg,
		log:   log.With().Int("worker", id).Logger(),
	}
}

// Run executes the worker loop until the corkboard signals finishing or
// the kill switch is observed. Staggers startup to avoid a thundering
// herd against the tracker/peers, matching the teacher's idiom of
// explicit sleeps rather than a rate limiter.
func (w *Worker) Run(killswitch *atomic.Bool) {
	time.Sleep(time.Duration(w.ID) * time.Second)
	w.log.Debug().Msg("worker init")

	for {
		if killswitch != nil && killswitch.Load() {
			w.log.Debug().Msg("kill switch set, exiting")
			return
		}

		verdict := w.searchForPeer()

		var connection PeerConnection
		switch verdict.kind {
		case verdictExit:
			w.log.Debug().Msg("exiting")
			return
		case verdictWaitThenRefetch:
			time.Sleep(verdict.wait)
			continue
		case verdictPromptRefetch:
			continue
		case verdictReuse:
			connection = verdict.connection
		case verdictConnectNew:
			conn, err := w.connectNew(verdict.address, killswitch)
			if err != nil {
				continue
			}
			connection = conn
		}
		w.connected = nil

		pieceID, ok := w.findNextPiece(connection)
		if !ok {
			continue
		}

		start := time.Now()
		data, downloadErr := connection.DownloadPiece(pieceID)
		duration := time.Since(start).Milliseconds()

		action := w.finalizeDownload(connection, pieceID, data, downloadErr, duration)
		if action == actionContinue {
			continue
		}

		w.connected = connection
		w.uses++
	}
}

// connectNew attempts to open a new peer connection, honoring the
// bounded retry budget before giving up on a peer entirely.
func (w *Worker) connectNew(address string, killswitch *atomic.Bool) (PeerConnection, error) {
	conn, err := NewTCPPeerConnection(address, w.tor, w.board.PeerID, killswitch)

	w.board.mu.Lock()
	defer w.board.mu.Unlock()
	peer, ok := w.board.peers[address]
	if !ok {
		return conn, err
	}

	if err != nil {
		w.log.Debug().Str("peer", address).Err(err).Int("attempt", peer.ConnectionAttempts).Msg("connection attempt failed")
		if peer.ConnectionAttempts >= maxConnectAttempts {
			peer.State = PeerError
		} else {
			peer.State = PeerActiveUnclaimed
		}
		return nil, err
	}

	w.uses = 0
	peer.State = PeerActiveClaimed
	w.log.Debug().Str("peer", address).Msg("connected")
	return conn, nil
}

// searchForPeer is mutual exclusion zone 1.
func (w *Worker) searchForPeer() peerVerdict {
	w.board.mu.Lock()
	defer w.board.mu.Unlock()

	if w.board.finishing.Load() || w.board.allFetched() {
		if w.connected != nil {
			if peer, ok := w.board.peers[w.connected.Address()]; ok {
				peer.State = PeerActiveUnclaimed
			}
		}
		w.board.setFinishing()
		return peerVerdict{kind: verdictExit}
	}

	if w.connected != nil {
		address := w.connected.Address()
		peer := w.board.peers[address]
		switch {
		case peer.State == PeerInactive || peer.State == PeerFresh:
			w.connected.Sever()
			w.connected = nil
			return peerVerdict{kind: verdictPromptRefetch}
		case w.uses >= maxPeerUses:
			peer.State = PeerActiveUnclaimed
			w.connected.Sever()
			w.connected = nil
			return peerVerdict{kind: verdictPromptRefetch}
		default:
			return peerVerdict{kind: verdictReuse, connection: w.connected}
		}
	}

	var candidates []string
	for addr, peer := range w.board.peers {
		if peer.State == PeerFresh || peer.State == PeerActiveUnclaimed {
			candidates = append(candidates, addr)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return betterCandidate(w.board.peers[candidates[i]], w.board.peers[candidates[j]])
	})

	if len(candidates) == 0 {
		return peerVerdict{kind: verdictWaitThenRefetch, wait: emptyPeerWait}
	}

	best := candidates[0]
	peer := w.board.peers[best]
	peer.ConnectionAttempts++
	peer.State = PeerConnecting
	return peerVerdict{kind: verdictConnectNew, address: best}
}

// findNextPiece is mutual exclusion zone 2.
func (w *Worker) findNextPiece(connection PeerConnection) (int, bool) {
	w.board.mu.Lock()
	defer w.board.mu.Unlock()

	anyUnfetched := false
	for _, p := range w.board.pieces {
		if p.State == PieceUnfetched {
			anyUnfetched = true
			break
		}
	}

	bf := connection.Bitfield()
	for id, p := range w.board.pieces {
		valid := p.State == PieceUnfetched
		if !anyUnfetched {
			// end-game: every piece is at least InProgress, so InProgress
			// pieces become fair game for re-racing (invariant 8).
			valid = p.State != PieceFetched
		}
		if valid && bf.HasPiece(id) {
			p.State = PieceInProgress
			w.log.Debug().Int("piece", id).Msg("chose piece")
			return id, true
		}
	}

	if peer, ok := w.board.peers[connection.Address()]; ok {
		peer.State = PeerSuperceded
	}
	connection.Sever()
	w.log.Debug().Str("peer", connection.Address()).Msg("no pieces available, dropping peer")
	return 0, false
}

// finalizeDownload is mutual exclusion zone 3.
func (w *Worker) finalizeDownload(connection PeerConnection, pieceID int, data []byte, downloadErr error, durationMilli int64) loopAction {
	w.board.mu.Lock()
	defer w.board.mu.Unlock()

	address := connection.Address()
	peer := w.board.peers[address]

	if downloadErr != nil {
		w.log.Debug().Str("peer", address).Int("piece", pieceID).Err(downloadErr).Msg("download failed")
		if peer != nil {
			peer.State = PeerError
		}
		connection.Sever()
		if pieceID < len(w.board.pieces) {
			w.board.pieces[pieceID].State = PieceUnfetched
		}
		return actionContinue
	}

	if peer != nil {
		perf := peer.RecordBenchmark(len(data), durationMilli)
		w.log.Debug().Str("peer", address).Float64("mib_s", perf/mbPerSecond).Msg("peer performance")
	}

	piece := w.board.pieces[pieceID]
	sum := sha1.Sum(data)
	if sum != piece.Hash {
		w.log.Debug().Int("piece", pieceID).Msg("hash mismatch, dropping data")
		piece.State = PieceUnfetched
		return actionContinue
	}

	if w.board.Torrent.Length > w.cfg.MaxMemorySize {
		loc, err := SaveToDisk(spillPath(w.cfg.TempDir, pieceID), data)
		if err != nil {
			w.log.Error().Err(err).Int("piece", pieceID).Msg("failed to spill piece to disk")
			piece.State = PieceUnfetched
			return actionContinue
		}
		piece.Location = loc
	} else {
		piece.Location = PieceLocation{Memory: data}
	}
	piece.State = PieceFetched
	w.log.Info().Int("piece", pieceID).Str("peer", address).Msg("downloaded piece")
	return actionPass
}
