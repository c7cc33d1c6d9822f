package torrent

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"gtorrent/bencode"
)

// Constants for BitTorrent protocol
const (
	ProtocolIdentifier = "BitTorrent protocol"
	BlockSize          = 16 * 1024 // 16 KiB block size for requests
	MaxBacklog         = 5         // Pipeline depth; unused, DownloadPiece requests every block of a piece at once
)

// Reserved-byte bits we assert in our own handshake and check for in a
// peer's. The extension protocol flag (BEP-10) is 0x10 in byte 5, i.e.
// bit 20 counting from the low bit of byte 7; the fast extensions flag
// (BEP-6) is 0x04 in byte 7.
const (
	reservedExtensionProtocolByte = 5
	reservedExtensionProtocolBit  = 0x10
	reservedFastExtensionsByte    = 7
	reservedFastExtensionsBit     = 0x04
)

// MessageType identifies the type of a BitTorrent message.
type MessageType uint8

// Message types defined by the BitTorrent protocol, extended with the
// BEP-6 fast-extension messages and the BEP-10 extension message.
const (
	MsgChoke         MessageType = 0
	MsgUnchoke       MessageType = 1
	MsgInterested    MessageType = 2
	MsgNotInterested MessageType = 3
	MsgHave          MessageType = 4
	MsgBitfield      MessageType = 5
	MsgRequest       MessageType = 6
	MsgPiece         MessageType = 7
	MsgCancel        MessageType = 8
	MsgPort          MessageType = 9 // Typically not used by download clients
	MsgHaveAll       MessageType = 14
	MsgHaveNone      MessageType = 15
	MsgRejectRequest MessageType = 16
	MsgAllowFast     MessageType = 17
	MsgExtension     MessageType = 20
	MsgKeepAlive     MessageType = 255 // Special case, no ID, zero length
)

// Message represents a generic BitTorrent message.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Handshake represents the initial handshake message.
type Handshake struct {
	Pstrlen  uint8
	Pstr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake creates a new Handshake message, advertising support for
// the extension protocol and fast extensions in the reserved bytes.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	h := &Handshake{
		Pstrlen:  uint8(len(ProtocolIdentifier)),
		Pstr:     ProtocolIdentifier,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	h.Reserved[reservedExtensionProtocolByte] |= reservedExtensionProtocolBit
	h.Reserved[reservedFastExtensionsByte] |= reservedFastExtensionsBit
	return h
}

// SupportsExtensionProtocol reports whether the reserved bytes advertise BEP-10.
func (h *Handshake) SupportsExtensionProtocol() bool {
	return h.Reserved[reservedExtensionProtocolByte]&reservedExtensionProtocolBit != 0
}

// SupportsFastExtensions reports whether the reserved bytes advertise BEP-6.
func (h *Handshake) SupportsFastExtensions() bool {
	return h.Reserved[reservedFastExtensionsByte]&reservedFastExtensionsBit != 0
}

// Serialize converts the Handshake struct into a byte slice.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(h.Pstr))
	buf[0] = h.Pstrlen
	copy(buf[1:], h.Pstr)
	copy(buf[1+len(h.Pstr):], h.Reserved[:])
	copy(buf[1+len(h.Pstr)+8:], h.InfoHash[:])
	copy(buf[1+len(h.Pstr)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a Handshake message from the reader.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lengthBuf := make([]byte, 1)
	_, err := io.ReadFull(r, lengthBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading handshake length: %v", ErrIO, err)
	}
	pstrlen := int(lengthBuf[0])
	if pstrlen == 0 {
		return nil, fmt.Errorf("%w: pstrlen cannot be 0", ErrProtocol)
	}

	handshakeBuf := make([]byte, 48+pstrlen)
	_, err = io.ReadFull(r, handshakeBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading handshake body: %v", ErrIO, err)
	}

	var infoHash, peerID [20]byte
	pstr := string(handshakeBuf[:pstrlen])
	if pstr != ProtocolIdentifier {
		return nil, fmt.Errorf("%w: unexpected protocol identifier %q", ErrProtocol, pstr)
	}
	copy(infoHash[:], handshakeBuf[pstrlen+8:pstrlen+8+20])
	copy(peerID[:], handshakeBuf[pstrlen+8+20:])

	h := &Handshake{
		Pstrlen:  uint8(pstrlen),
		Pstr:     pstr,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	copy(h.Reserved[:], handshakeBuf[pstrlen:pstrlen+8])

	return h, nil
}

// PerformHandshake performs the BitTorrent handshake with a peer.
func PerformHandshake(conn net.Conn, tor *Torrent, selfPeerID [20]byte) (*Handshake, error) {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetDeadline(time.Time{})

	req := NewHandshake(tor.InfoHash, selfPeerID)
	_, err := conn.Write(req.Serialize())
	if err != nil {
		return nil, fmt.Errorf("%w: sending handshake: %v", ErrIO, err)
	}

	res, err := ReadHandshake(conn)
	if err != nil {
		return nil, err
	}

	if res.InfoHash != tor.InfoHash {
		return nil, fmt.Errorf("%w: infohash mismatch", ErrProtocol)
	}

	return res, nil
}

// Serialize converts a Message struct into a byte slice for sending.
// Format: <length prefix (4 bytes)><message ID (1 byte)><payload>
// KeepAlive messages have length 0 and no ID or payload.
func (m *Message) Serialize() []byte {
	if m.Type == MsgKeepAlive {
		return make([]byte, 4) // Length prefix of 0
	}
	length := uint32(1 + len(m.Payload)) // Message ID + Payload length
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.Type)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads a message from the connection.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	_, err := io.ReadFull(r, lengthBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading message length: %v", ErrIO, err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)

	// KeepAlive message
	if length == 0 {
		return &Message{Type: MsgKeepAlive}, nil
	}

	messageBuf := make([]byte, length)
	_, err = io.ReadFull(r, messageBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading message body: %v", ErrIO, err)
	}

	m := &Message{
		Type:    MessageType(messageBuf[0]),
		Payload: messageBuf[1:],
	}
	return m, nil
}

// FormatRequest creates the payload for a Request/Cancel/RejectRequest message.
func FormatRequest(index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return payload
}

// ParseRequest extracts index, begin, and length from a Request/Cancel/
// RejectRequest message payload.
func ParseRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		err = fmt.Errorf("%w: request payload invalid length: %d", ErrProtocol, len(payload))
		return
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return
}

// ParsePiece extracts index, begin, and data from a Piece message payload.
func ParsePiece(payload []byte) (index, begin uint32, data []byte, err error) {
	if len(payload) < 8 {
		err = fmt.Errorf("%w: piece payload too short: %d bytes", ErrProtocol, len(payload))
		return
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	data = payload[8:]
	return
}

// ParseHave extracts the piece index from a Have message payload.
func ParseHave(payload []byte) (index uint32, err error) {
	if len(payload) != 4 {
		err = fmt.Errorf("%w: have payload invalid length: %d", ErrProtocol, len(payload))
		return
	}
	index = binary.BigEndian.Uint32(payload)
	return
}

// ParseAllowFast extracts the piece index from an AllowFast message payload.
func ParseAllowFast(payload []byte) (index uint32, err error) {
	if len(payload) != 4 {
		err = fmt.Errorf("%w: allow-fast payload invalid length: %d", ErrProtocol, len(payload))
		return
	}
	index = binary.BigEndian.Uint32(payload)
	return
}

// ExtensionMessage is the decoded form of a BEP-10 extension message: a
// 1-byte sub-id followed by a bencoded dict.
type ExtensionMessage struct {
	SubID uint8
	Dict  map[string]*bencode.Data
}

// ParseExtension decodes a BEP-10 extension message payload.
func ParseExtension(payload []byte) (*ExtensionMessage, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: extension payload empty", ErrProtocol)
	}
	data, _, err := bencode.Decode(payload[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding extension dict: %v", ErrBencode, err)
	}
	if data == nil || data.Type != bencode.DICT {
		return nil, fmt.Errorf("%w: extension payload is not a dict", ErrProtocol)
	}
	return &ExtensionMessage{SubID: payload[0], Dict: data.AsDict()}, nil
}

// Encode serializes an extension message back into a peer message payload.
func (e *ExtensionMessage) Encode() []byte {
	buf := []byte{e.SubID}
	buf = append(buf, bencode.Encode(bencode.NewData(e.Dict))...)
	return buf
}

// Bitfield represents the pieces a peer has.
type Bitfield []byte

// NewBitfield allocates a zeroed bitfield sized for numPieces.
func NewBitfield(numPieces int) Bitfield {
	return make(Bitfield, (numPieces+7)/8)
}

// AllSet returns a bitfield with every piece in [0, numPieces) marked
// present, as if synthesized from a have-all message.
func AllSet(numPieces int) Bitfield {
	bf := NewBitfield(numPieces)
	for i := 0; i < numPieces; i++ {
		bf.SetPiece(i)
	}
	return bf
}

// HasPiece checks if the bitfield indicates the peer has a specific piece.
func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	offset := index % 8
	if byteIndex < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-offset)&1 != 0
}

// SetPiece marks a piece as available in the bitfield.
func (bf Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	offset := index % 8
	if byteIndex < 0 || byteIndex >= len(bf) {
		return // Index out of bounds
	}
	bf[byteIndex] |= 1 << (7 - offset)
}
