package corkboard

import (
	"errors"
	"testing"

	"gtorrent/torrent"
)

func testConfig() *Config {
	return &Config{Workers: 1, PeerID: "peer-id-twenty-bytes", MaxMemorySize: 1 << 30}
}

// TestWorkerDownloadsAndVerifiesPiece covers the single-piece scenario:
// given a connection that has the one piece, the worker picks it, the
// downloaded bytes are settled, and the hash matches, so it lands
// Fetched.
func TestWorkerDownloadsAndVerifiesPiece(t *testing.T) {
	data := []byte("piece-one-data--")
	tor := testTorrent(t, data)
	board, _ := New(tor, "peer-id-twenty-bytes", 6881)
	w := NewWorker(0, board, tor, testConfig(), discardLogger())

	bf := torrent.NewBitfield(1)
	bf.SetPiece(0)
	conn := &fakePeerConnection{address: "1.1.1.1:1", bitfield: bf, data: map[int][]byte{0: data}}

	pieceID, ok := w.findNextPiece(conn)
	if !ok {
		t.Fatal("expected a piece to be chosen")
	}
	action := w.finalizeDownload(conn, pieceID, data, nil, 5)
	if action != actionPass {
		t.Fatalf("expected actionPass, got %v", action)
	}
	if board.pieces[pieceID].State != PieceFetched {
		t.Fatalf("expected piece Fetched, got %v", board.pieces[pieceID].State)
	}
}

// TestWorkerFinalizeDownloadRejectsHashMismatch covers the hash-mismatch
// scenario: downloaded bytes that don't match the piece hash are
// discarded and the piece is returned to Unfetched for re-racing.
func TestWorkerFinalizeDownloadRejectsHashMismatch(t *testing.T) {
	tor := testTorrent(t, []byte("expected-bytes--"))
	board, _ := New(tor, "peer-id-twenty-bytes", 6881)
	w := NewWorker(0, board, tor, testConfig(), discardLogger())

	board.mu.Lock()
	board.pieces[0].State = PieceInProgress
	board.mu.Unlock()

	conn := &fakePeerConnection{address: "1.1.1.1:1"}
	action := w.finalizeDownload(conn, 0, []byte("wrong-bytes-here"), nil, 5)

	if action != actionContinue {
		t.Fatalf("expected actionContinue on hash mismatch, got %v", action)
	}
	if board.pieces[0].State != PieceUnfetched {
		t.Fatalf("expected piece reverted to Unfetched, got %v", board.pieces[0].State)
	}
}

// TestWorkerFinalizeDownloadMarksPeerErrorOnFailure covers the
// peer-disconnect scenario: a download error from the connection marks
// the peer Error (terminal) and returns the piece to Unfetched.
func TestWorkerFinalizeDownloadMarksPeerErrorOnFailure(t *testing.T) {
	tor := testTorrent(t, []byte("aaaaaaaaaaaaaaaa"))
	board, _ := New(tor, "peer-id-twenty-bytes", 6881)
	w := NewWorker(0, board, tor, testConfig(), discardLogger())

	board.UpsertFromTracker([]string{"1.1.1.1:1"})
	board.mu.Lock()
	board.peers["1.1.1.1:1"].State = PeerActiveClaimed
	board.pieces[0].State = PieceInProgress
	board.mu.Unlock()

	conn := &fakePeerConnection{address: "1.1.1.1:1", failWith: errors.New("connection reset")}
	action := w.finalizeDownload(conn, 0, nil, conn.failWith, 5)

	if action != actionContinue {
		t.Fatalf("expected actionContinue on download error, got %v", action)
	}
	if board.peers["1.1.1.1:1"].State != PeerError {
		t.Fatalf("expected peer Error after a failed download, got %v", board.peers["1.1.1.1:1"].State)
	}
	if board.pieces[0].State != PieceUnfetched {
		t.Fatalf("expected piece reverted to Unfetched, got %v", board.pieces[0].State)
	}
	if !conn.severed {
		t.Fatal("expected connection to be severed on failure")
	}
}

// TestTwoWorkersAssignDisjointPieces covers the disjoint two-worker
// assignment scenario: with two Unfetched pieces and two distinct
// connections, findNextPiece must never hand the same piece to both
// workers concurrently, since each call holds the board's write lock
// for its full duration and marks the piece InProgress before
// releasing it.
func TestTwoWorkersAssignDisjointPieces(t *testing.T) {
	tor := testTorrent(t, []byte("piece-zero-data-"), []byte("piece-one-data--"))
	board, _ := New(tor, "peer-id-twenty-bytes", 6881)
	w1 := NewWorker(0, board, tor, testConfig(), discardLogger())
	w2 := NewWorker(1, board, tor, testConfig(), discardLogger())

	bf := torrent.NewBitfield(2)
	bf.SetPiece(0)
	bf.SetPiece(1)
	conn1 := &fakePeerConnection{address: "1.1.1.1:1", bitfield: bf}
	conn2 := &fakePeerConnection{address: "2.2.2.2:2", bitfield: bf}

	id1, ok1 := w1.findNextPiece(conn1)
	id2, ok2 := w2.findNextPiece(conn2)

	if !ok1 || !ok2 {
		t.Fatalf("expected both workers to find a piece, got ok1=%v ok2=%v", ok1, ok2)
	}
	if id1 == id2 {
		t.Fatalf("expected disjoint piece assignment, both workers got piece %d", id1)
	}
	if board.pieces[id1].State != PieceInProgress || board.pieces[id2].State != PieceInProgress {
		t.Fatal("expected both chosen pieces to be marked InProgress")
	}
}

// TestEndGameReRacing covers the end-game scenario: once no Unfetched
// piece remains, an InProgress piece becomes fair game again for a
// second connection racing to fetch it (invariant 8).
func TestEndGameReRacing(t *testing.T) {
	tor := testTorrent(t, []byte("only-piece-data-"))
	board, _ := New(tor, "peer-id-twenty-bytes", 6881)
	w := NewWorker(0, board, tor, testConfig(), discardLogger())

	board.mu.Lock()
	board.pieces[0].State = PieceInProgress
	board.mu.Unlock()

	bf := torrent.NewBitfield(1)
	bf.SetPiece(0)
	conn := &fakePeerConnection{address: "3.3.3.3:3", bitfield: bf}

	id, ok := w.findNextPiece(conn)
	if !ok {
		t.Fatal("expected the in-progress piece to be re-raced in end-game")
	}
	if id != 0 {
		t.Fatalf("expected piece 0 to be re-raced, got %d", id)
	}
	if board.pieces[0].State != PieceInProgress {
		t.Fatalf("expected piece to remain InProgress, got %v", board.pieces[0].State)
	}
}
