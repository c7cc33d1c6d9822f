package main

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"gtorrent/bencode"
	"gtorrent/corkboard"
	"gtorrent/torrent"
)

// DecodeAndPrint decodes a bencoded string and prints it as JSON.
func DecodeAndPrint(raw string) error {
	data, _, err := bencode.Decode([]byte(raw))
	if err != nil {
		return err
	}
	fmt.Println(data.ToJSON())
	return nil
}

// PrintTorrentInfo parses a .torrent file and prints its meta-info.
func PrintTorrentInfo(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}
	fmt.Println(tor.String())
	return nil
}

// PrintPeers resolves a torrent's trackers and prints every peer address
// from the first announce batch, stopping once the tracker set asks for
// a back-off.
func PrintPeers(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}

	me := torrent.PeerMe()
	set, err := torrent.NewTrackerSet(tor, me)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	seen := make(map[string]bool)
	for {
		peer, flow, err := set.Next(ctx)
		if err != nil {
			return err
		}
		if peer != nil && !seen[peer.String()] {
			seen[peer.String()] = true
			fmt.Println(peer.String())
		}
		if flow.Done || flow.Wait > 0 {
			return nil
		}
	}
}

// PerformSingleHandshake dials a peer address and performs a handshake,
// printing the remote peer-id as hex.
func PerformSingleHandshake(torrentFile, address, peerID string) error {
	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}

	var selfID [20]byte
	copy(selfID[:], peerID)

	conn, err := net.DialTimeout("tcp", address, 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	handshake, err := torrent.PerformHandshake(conn, tor, selfID)
	if err != nil {
		return err
	}
	fmt.Printf("%x\n", handshake.PeerID)
	return nil
}

// DownloadSinglePiece downloads exactly one piece via a single
// TCPPeerConnection and writes it to output.
func DownloadSinglePiece(torrentFile, address string, pieceID int, output, peerID string) error {
	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}
	if pieceID < 0 || pieceID >= len(tor.Pieces) {
		return fmt.Errorf("piece %d out of range (torrent has %d pieces)", pieceID, len(tor.Pieces))
	}

	var killswitch atomic.Bool
	conn, err := corkboard.NewTCPPeerConnection(address, tor, peerID, &killswitch)
	if err != nil {
		return err
	}
	defer conn.Sever()

	data, err := conn.DownloadPiece(pieceID)
	if err != nil {
		return err
	}

	sum := sha1.Sum(data)
	expected := tor.Pieces[pieceID]
	if fmt.Sprintf("%x", sum) != expected {
		return fmt.Errorf("%w: piece %d", torrent.ErrHashMismatch, pieceID)
	}

	return os.WriteFile(output, data, 0o644)
}

// DownloadV2 runs the corkboard coordinator end to end and writes the
// assembled output to path.
func DownloadV2(torrentFile, output string, workers int, peerID string, port uint16) error {
	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}

	cfg := corkboard.DefaultConfig(peerID, port)
	if workers > 0 {
		cfg.Workers = workers
	}

	var gormDB *gorm.DB
	var downloadID uint
	if mainDB != nil {
		model, err := mainDB.CreateDownload(tor, torrentFile)
		if err != nil {
			log.Warn().Err(err).Msg("failed to record download in database, continuing without persistence")
		} else {
			gormDB = mainDB.GormDB()
			downloadID = model.ID
		}
	}

	data, err := corkboard.Download(context.Background(), tor, cfg, gormDB, downloadID, log.Logger)
	if err != nil {
		return err
	}

	return corkboard.WriteOutput(output, data)
}
