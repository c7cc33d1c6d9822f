package torrent

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	h := NewHandshake(infoHash, peerID)
	if !h.SupportsExtensionProtocol() {
		t.Fatal("expected extension protocol bit set")
	}
	if !h.SupportsFastExtensions() {
		t.Fatal("expected fast extensions bit set")
	}

	buf := bytes.NewReader(h.Serialize())
	got, err := ReadHandshake(buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.InfoHash != infoHash {
		t.Errorf("info hash mismatch: got %x, want %x", got.InfoHash, infoHash)
	}
	if got.PeerID != peerID {
		t.Errorf("peer id mismatch: got %x, want %x", got.PeerID, peerID)
	}
	if !got.SupportsExtensionProtocol() || !got.SupportsFastExtensions() {
		t.Error("reserved bits lost across serialization round trip")
	}
}

func TestReadHandshakeRejectsShortBuffer(t *testing.T) {
	_, err := ReadHandshake(bytes.NewReader([]byte{0x13}))
	if err == nil {
		t.Fatal("expected error reading truncated handshake")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []*Message{
		{Type: MsgChoke},
		{Type: MsgHave, Payload: FormatRequest(5, 0, 0)[:4]},
		{Type: MsgRequest, Payload: FormatRequest(3, 16384, 16384)},
		{Type: MsgPiece, Payload: append(FormatRequest(3, 0, 0)[:8], []byte("blockdata")...)},
	}
	for _, want := range cases {
		buf := bytes.NewReader(want.Serialize())
		got, err := ReadMessage(buf)
		if err != nil {
			t.Fatalf("ReadMessage(%d): %v", want.Type, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("round trip mismatch for type %d: got %+v, want %+v", want.Type, got, want)
		}
	}
}

func TestReadMessageKeepAlive(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0, 0})
	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Type != MsgKeepAlive {
		t.Errorf("expected keep-alive, got type %d", msg.Type)
	}
}

func TestBitfieldHasPieceAndSetPiece(t *testing.T) {
	bf := NewBitfield(10)
	for i := 0; i < 10; i++ {
		if bf.HasPiece(i) {
			t.Fatalf("piece %d should start unset", i)
		}
	}
	bf.SetPiece(3)
	bf.SetPiece(9)
	if !bf.HasPiece(3) || !bf.HasPiece(9) {
		t.Fatal("SetPiece did not take effect")
	}
	if bf.HasPiece(4) {
		t.Fatal("unrelated piece should remain unset")
	}
}

func TestAllSetBitfield(t *testing.T) {
	bf := AllSet(13)
	for i := 0; i < 13; i++ {
		if !bf.HasPiece(i) {
			t.Fatalf("piece %d should be set in an all-set bitfield", i)
		}
	}
}

func TestParseRequestAndPiece(t *testing.T) {
	payload := FormatRequest(7, 16384, 4096)
	index, begin, length, err := ParseRequest(payload)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if index != 7 || begin != 16384 || length != 4096 {
		t.Errorf("got (%d, %d, %d)", index, begin, length)
	}

	pieceMsg := Message{Type: MsgPiece, Payload: append(FormatRequest(7, 16384, 0)[:8], []byte("hello")...)}
	gotIndex, gotBegin, data, err := ParsePiece(pieceMsg.Payload)
	if err != nil {
		t.Fatalf("ParsePiece: %v", err)
	}
	if gotIndex != 7 || gotBegin != 16384 || string(data) != "hello" {
		t.Errorf("got (%d, %d, %q)", gotIndex, gotBegin, data)
	}
}

func TestParseRequestRejectsShortPayload(t *testing.T) {
	if _, _, _, err := ParseRequest([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short request payload")
	}
}
