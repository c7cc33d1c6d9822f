package corkboard

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"gtorrent/torrent"
)

// Seeder accepts inbound peer connections and serves pieces already
// fetched, grounded on the original's seeder thread.
type Seeder struct {
	board *Corkboard
	log   zerolog.Logger
}

// NewSeeder builds a seeder bound to a corkboard.
func NewSeeder(board *Corkboard, log zerolog.Logger) *Seeder {
	return &Seeder{board: board, log: log.With().Str("component", "seeder").Logger()}
}

// Run listens on the corkboard's configured port until ctx is cancelled,
// spawning one goroutine per accepted connection.
func (s *Seeder) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.board.Port))
	if err != nil {
		return fmt.Errorf("%w: binding seeder listener: %v", torrent.ErrIO, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Debug().Uint16("port", s.board.Port).Msg("seeder init")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go s.serve(conn)
	}
}

func (s *Seeder) serve(conn net.Conn) {
	defer conn.Close()
	address := conn.RemoteAddr().String()
	log := s.log.With().Str("peer", address).Logger()

	var selfID [20]byte
	copy(selfID[:], s.board.PeerID)

	peerHandshake, err := torrent.ReadHandshake(conn)
	if err != nil {
		log.Debug().Err(err).Msg("handshake read failed")
		return
	}
	log.Debug().Str("peer_id", fmt.Sprintf("%x", peerHandshake.PeerID)).Msg("inbound handshake")

	response := torrent.NewHandshake(s.board.Torrent.InfoHash, selfID)
	if _, err := conn.Write(response.Serialize()); err != nil {
		log.Debug().Err(err).Msg("handshake write failed")
		return
	}

	bitfield := s.board.FetchedBitfield()
	if err := writeMessage(conn, &torrent.Message{Type: torrent.MsgBitfield, Payload: bitfield}); err != nil {
		return
	}

	if !s.awaitInterested(conn, log) {
		return
	}

	if err := writeMessage(conn, &torrent.Message{Type: torrent.MsgUnchoke}); err != nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, err := torrent.ReadMessage(conn)
		if err != nil {
			return
		}
		if msg.Type != torrent.MsgRequest {
			continue
		}
		index, begin, length, err := torrent.ParseRequest(msg.Payload)
		if err != nil {
			continue
		}
		data, err := s.board.PieceData(int(index))
		if err != nil {
			log.Debug().Uint32("piece", index).Msg("requested piece not fetched, closing")
			return
		}
		end := begin + length
		if int(end) > len(data) {
			log.Debug().Uint32("piece", index).Msg("invalid chunk range, closing")
			return
		}
		block := data[begin:end]
		payload := torrent.FormatRequest(index, begin, length)[:8]
		payload = append(payload, block...)
		if err := writeMessage(conn, &torrent.Message{Type: torrent.MsgPiece, Payload: payload}); err != nil {
			return
		}
	}
}

// awaitInterested blocks until the peer sends interested (true) or
// not-interested/an error (false).
func (s *Seeder) awaitInterested(conn net.Conn, log zerolog.Logger) bool {
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, err := torrent.ReadMessage(conn)
		if err != nil {
			return false
		}
		switch msg.Type {
		case torrent.MsgInterested:
			return true
		case torrent.MsgNotInterested:
			log.Debug().Msg("peer not interested, closing")
			return false
		}
	}
}

func writeMessage(conn net.Conn, m *torrent.Message) error {
	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	_, err := conn.Write(m.Serialize())
	return err
}
