package corkboard

import (
	"bytes"
	"net"
	"testing"
	"time"

	"gtorrent/torrent"
)

// TestSeederServesRequestedPiece drives Seeder.serve over an in-memory
// net.Pipe() against a scripted fake remote peer: handshake, bitfield,
// interested, unchoke, request, piece. Covers the seeder's accept-and-
// serve flow without any real networking.
func TestSeederServesRequestedPiece(t *testing.T) {
	pieceData := bytes.Repeat([]byte{0x42}, 1024)
	tor := testTorrent(t, pieceData)
	board, err := New(tor, "peer-id-twenty-bytes", 6881)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	board.mu.Lock()
	board.pieces[0].State = PieceFetched
	board.pieces[0].Location = PieceLocation{Memory: pieceData}
	board.mu.Unlock()

	seeder := NewSeeder(board, discardLogger())

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go seeder.serve(remote)

	var remotePeerID [20]byte
	copy(remotePeerID[:], "remote-peer-id-20byt")

	if _, err := local.Write(torrent.NewHandshake(tor.InfoHash, remotePeerID).Serialize()); err != nil {
		t.Fatalf("writing handshake: %v", err)
	}
	if _, err := torrent.ReadHandshake(local); err != nil {
		t.Fatalf("reading handshake response: %v", err)
	}

	bfMsg, err := torrent.ReadMessage(local)
	if err != nil {
		t.Fatalf("reading bitfield: %v", err)
	}
	if bfMsg.Type != torrent.MsgBitfield {
		t.Fatalf("expected bitfield message, got %d", bfMsg.Type)
	}
	if !torrent.Bitfield(bfMsg.Payload).HasPiece(0) {
		t.Fatal("expected advertised bitfield to include the fetched piece")
	}

	if _, err := local.Write((&torrent.Message{Type: torrent.MsgInterested}).Serialize()); err != nil {
		t.Fatalf("sending interested: %v", err)
	}

	unchokeMsg, err := torrent.ReadMessage(local)
	if err != nil {
		t.Fatalf("reading unchoke: %v", err)
	}
	if unchokeMsg.Type != torrent.MsgUnchoke {
		t.Fatalf("expected unchoke message, got %d", unchokeMsg.Type)
	}

	reqPayload := torrent.FormatRequest(0, 0, uint32(len(pieceData)))
	if _, err := local.Write((&torrent.Message{Type: torrent.MsgRequest, Payload: reqPayload}).Serialize()); err != nil {
		t.Fatalf("sending request: %v", err)
	}

	done := make(chan struct{})
	var pieceMsg *torrent.Message
	var readErr error
	go func() {
		pieceMsg, readErr = torrent.ReadMessage(local)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for piece message")
	}
	if readErr != nil {
		t.Fatalf("reading piece: %v", readErr)
	}
	if pieceMsg.Type != torrent.MsgPiece {
		t.Fatalf("expected piece message, got %d", pieceMsg.Type)
	}
	index, begin, data, err := torrent.ParsePiece(pieceMsg.Payload)
	if err != nil {
		t.Fatalf("ParsePiece: %v", err)
	}
	if index != 0 || begin != 0 {
		t.Fatalf("unexpected index/begin: %d/%d", index, begin)
	}
	if !bytes.Equal(data, pieceData) {
		t.Fatal("served piece bytes do not match what was fetched")
	}
}
