package corkboard

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"gtorrent/torrent"
)

// readTimeout bounds every per-message peer read (spec §9 open
// question, resolved to a fixed value).
const readTimeout = 30 * time.Second

// handshakeTimeout bounds the construction-time handshake exchange.
const handshakeTimeout = 10 * time.Second

// PeerConnection is one TCP connection to one remote peer: a
// bidirectional message stream, a remote-has bitfield, and the blocking
// download_piece/sever operations the worker pool drives it with.
// Modeled as an interface so the worker loop can run against a fake in
// tests, the way torrent.ITracker lets the tracker client be faked.
type PeerConnection interface {
	Address() string
	Bitfield() torrent.Bitfield
	DownloadPiece(id int) ([]byte, error)
	Sever() error
}

// TCPPeerConnection implements PeerConnection over a real TCP socket.
type TCPPeerConnection struct {
	address    string
	conn       net.Conn
	tor        *torrent.Torrent
	bitfield   torrent.Bitfield
	choked     bool
	killswitch *atomic.Bool
	severed    atomic.Bool
}

// NewTCPPeerConnection dials addr, performs the handshake, accepts the
// peer's initial bitfield (or synthesizes one from have-all/have-none),
// sends interested, and blocks until unchoke. killswitch is shared
// across every connection in a download; when it flips, any blocking
// read aborts with ErrCancelled.
func NewTCPPeerConnection(address string, tor *torrent.Torrent, peerID string, killswitch *atomic.Bool) (*TCPPeerConnection, error) {
	conn, err := net.DialTimeout("tcp", address, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", torrent.ErrIO, address, err)
	}

	var selfID [20]byte
	copy(selfID[:], peerID)

	if _, err := torrent.PerformHandshake(conn, tor, selfID); err != nil {
		conn.Close()
		return nil, err
	}

	pc := &TCPPeerConnection{
		address:    address,
		conn:       conn,
		tor:        tor,
		bitfield:   torrent.NewBitfield(len(tor.Pieces)),
		killswitch: killswitch,
	}

	if err := pc.acceptInitialBitfield(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := pc.sendMessage(&torrent.Message{Type: torrent.MsgInterested}); err != nil {
		conn.Close()
		return nil, err
	}

	if err := pc.awaitUnchoke(); err != nil {
		conn.Close()
		return nil, err
	}

	return pc, nil
}

func (pc *TCPPeerConnection) Address() string { return pc.address }

func (pc *TCPPeerConnection) Bitfield() torrent.Bitfield { return pc.bitfield }

func (pc *TCPPeerConnection) acceptInitialBitfield() error {
	for i := 0; i < 8; i++ { // bounded: a misbehaving peer shouldn't hang construction forever
		msg, err := pc.readMessage()
		if err != nil {
			return err
		}
		switch msg.Type {
		case torrent.MsgBitfield:
			pc.bitfield = torrent.Bitfield(msg.Payload)
			return nil
		case torrent.MsgHaveAll:
			pc.bitfield = torrent.AllSet(len(pc.tor.Pieces))
			return nil
		case torrent.MsgHaveNone:
			pc.bitfield = torrent.NewBitfield(len(pc.tor.Pieces))
			return nil
		case torrent.MsgHave:
			index, err := torrent.ParseHave(msg.Payload)
			if err != nil {
				return err
			}
			pc.bitfield.SetPiece(int(index))
			return nil
		case torrent.MsgExtension, torrent.MsgKeepAlive, torrent.MsgChoke, torrent.MsgUnchoke:
			continue // peers may chatter before the bitfield; keep waiting
		default:
			return fmt.Errorf("%w: unexpected message %d before bitfield", torrent.ErrProtocol, msg.Type)
		}
	}
	// No explicit bitfield/have-all/have-none arrived; treat as have-none.
	pc.bitfield = torrent.NewBitfield(len(pc.tor.Pieces))
	return nil
}

func (pc *TCPPeerConnection) awaitUnchoke() error {
	pc.choked = true
	for pc.choked {
		msg, err := pc.readMessage()
		if err != nil {
			return err
		}
		switch msg.Type {
		case torrent.MsgUnchoke:
			pc.choked = false
		case torrent.MsgChoke:
			pc.choked = true
		case torrent.MsgHave:
			if index, err := torrent.ParseHave(msg.Payload); err == nil {
				pc.bitfield.SetPiece(int(index))
			}
		}
	}
	return nil
}

// DownloadPiece fetches one whole piece using pipelined block requests,
// per spec §4.2: outstanding blocks are tracked by offset, choke pauses
// new requests, unchoke resumes them, and the loop ends once every block
// has arrived and the peer isn't choking.
func (pc *TCPPeerConnection) DownloadPiece(id int) ([]byte, error) {
	pieceOffset := int64(id) * pc.tor.PieceLength
	thisPieceLength := pc.tor.PieceLength
	if remaining := pc.tor.Length - pieceOffset; remaining < thisPieceLength {
		thisPieceLength = remaining
	}

	data := make([]byte, thisPieceLength)
	outstanding := make(map[uint32]uint32) // begin -> length

	var begin uint32
	for begin < uint32(thisPieceLength) {
		length := uint32(torrent.BlockSize)
		if remaining := uint32(thisPieceLength) - begin; remaining < length {
			length = remaining
		}
		outstanding[begin] = length
		begin += length
	}

	sendRequest := func(beginOff, length uint32) error {
		return pc.sendMessage(&torrent.Message{
			Type:    torrent.MsgRequest,
			Payload: torrent.FormatRequest(uint32(id), beginOff, length),
		})
	}

	if !pc.choked {
		for beginOff, length := range outstanding {
			if err := sendRequest(beginOff, length); err != nil {
				return nil, err
			}
		}
	}

	for len(outstanding) > 0 || pc.choked {
		msg, err := pc.readMessage()
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case torrent.MsgPiece:
			index, beginOff, block, err := torrent.ParsePiece(msg.Payload)
			if err != nil {
				return nil, err
			}
			if int(index) != id {
				continue
			}
			if _, ok := outstanding[beginOff]; !ok {
				continue
			}
			copy(data[beginOff:], block)
			delete(outstanding, beginOff)
		case torrent.MsgChoke:
			pc.choked = true
		case torrent.MsgUnchoke:
			wasChoked := pc.choked
			pc.choked = false
			if wasChoked {
				for beginOff, length := range outstanding {
					if err := sendRequest(beginOff, length); err != nil {
						return nil, err
					}
				}
			}
		case torrent.MsgHave:
			if index, err := torrent.ParseHave(msg.Payload); err == nil {
				pc.bitfield.SetPiece(int(index))
			}
		case torrent.MsgHaveAll, torrent.MsgHaveNone, torrent.MsgBitfield:
			// ignored post-construction; bitfield already established
		default:
			// ignore everything else per spec §4.2
		}
	}

	return data, nil
}

// Sever shuts down the connection immediately. Idempotent.
func (pc *TCPPeerConnection) Sever() error {
	if pc.severed.Swap(true) {
		return nil
	}
	return pc.conn.Close()
}

func (pc *TCPPeerConnection) sendMessage(m *torrent.Message) error {
	pc.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	_, err := pc.conn.Write(m.Serialize())
	if err != nil {
		return fmt.Errorf("%w: writing message: %v", torrent.ErrIO, err)
	}
	return nil
}

func (pc *TCPPeerConnection) readMessage() (*torrent.Message, error) {
	if pc.killswitch != nil && pc.killswitch.Load() {
		return nil, ErrCancelled
	}
	pc.conn.SetReadDeadline(time.Now().Add(readTimeout))
	msg, err := torrent.ReadMessage(pc.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", torrent.ErrPeerStalled, err)
	}
	return msg, nil
}
