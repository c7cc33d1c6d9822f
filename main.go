package main

import (
	"gtorrent/config"
	"gtorrent/db"
	"gtorrent/torrent"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

const VERSION = "0.1.0"

var CLI struct {
	PeerID string `help:"Local peer id (20 bytes)." default:"00112233445566778899"`
	Port   uint16 `help:"Local listen port." default:"6881"`

	Verify struct {
		Torrent     string `arg:"" help:"Torrent file to verify." type:"existingfile"`
		ContentPath string `arg:"" optional:"" help:"Path to the content files." type:"existingdir"`
	} `cmd:"" help:"Verify a torrent file."`
	Download struct {
		Torrent string `arg:"" help:"Torrent file to download."`
	} `cmd:"" help:"Download a torrent file into the download directory via the corkboard coordinator."`
	DownloadV2 struct {
		Torrent string `arg:"" help:"Torrent file to download." type:"existingfile"`
		Output  string `help:"Output path for the assembled content." required:""`
		Workers int    `help:"Number of corkboard workers." default:"4"`
	} `cmd:"download_v2" help:"Download a torrent file via the corkboard coordinator."`
	Decode struct {
		Value string `arg:"" help:"Bencoded string to decode."`
	} `cmd:"" help:"Decode a bencoded string and print it as JSON."`
	Info struct {
		Torrent string `arg:"" help:"Torrent file to inspect." type:"existingfile"`
	} `cmd:"" help:"Print a torrent file's meta-info."`
	Peers struct {
		Torrent string `arg:"" help:"Torrent file." type:"existingfile"`
	} `cmd:"" help:"Resolve trackers and print discovered peer addresses."`
	Handshake struct {
		Torrent string `arg:"" help:"Torrent file." type:"existingfile"`
		Address string `arg:"" help:"Peer address, ip:port."`
	} `cmd:"" help:"Perform a single handshake and print the remote peer id."`
	DownloadPiece struct {
		Torrent string `arg:"" help:"Torrent file." type:"existingfile"`
		Address string `arg:"" help:"Peer address, ip:port."`
		ID      int    `arg:"" help:"Piece index to download."`
		Output  string `help:"Output path for the piece." required:""`
	} `cmd:"download_piece" help:"Download exactly one piece from a single peer."`
}

var mainDB *db.Database

func main() {
	println("goTorrent v" + VERSION)
	initConfig()
	initLogging()
	defer shutdownLogging()
	ctx := kong.Parse(&CLI)
	cmd := ctx.Command()
	switch cmd {
	case "verify <torrent> <content-path>":
		err := torrent.VerifyTorrent(CLI.Verify.Torrent, CLI.Verify.ContentPath)
		if err != nil {
			log.Error().Err(err).Msg("Error verifying torrent")
			return
		}
		println("Torrent verified successfully.")
	case "download <torrent>":
		initDB()
		err := DownloadTorrent(CLI.Download.Torrent)
		if err != nil {
			log.Error().Err(err).Msg("Error downloading torrent")
			return
		}
	case "download_v2 <torrent>":
		initDB()
		err := DownloadV2(CLI.DownloadV2.Torrent, CLI.DownloadV2.Output, CLI.DownloadV2.Workers, CLI.PeerID, CLI.Port)
		if err != nil {
			log.Error().Err(err).Msg("Error running corkboard download")
			return
		}
	case "decode <value>":
		if err := DecodeAndPrint(CLI.Decode.Value); err != nil {
			log.Error().Err(err).Msg("Error decoding value")
			return
		}
	case "info <torrent>":
		if err := PrintTorrentInfo(CLI.Info.Torrent); err != nil {
			log.Error().Err(err).Msg("Error reading torrent")
			return
		}
	case "peers <torrent>":
		if err := PrintPeers(CLI.Peers.Torrent); err != nil {
			log.Error().Err(err).Msg("Error resolving peers")
			return
		}
	case "handshake <torrent> <address>":
		if err := PerformSingleHandshake(CLI.Handshake.Torrent, CLI.Handshake.Address, CLI.PeerID); err != nil {
			log.Error().Err(err).Msg("Error performing handshake")
			return
		}
	case "download_piece <torrent> <address> <id>":
		err := DownloadSinglePiece(CLI.DownloadPiece.Torrent, CLI.DownloadPiece.Address, CLI.DownloadPiece.ID, CLI.DownloadPiece.Output, CLI.PeerID)
		if err != nil {
			log.Error().Err(err).Msg("Error downloading piece")
			return
		}
	default:
		ctx.PrintUsage(false)
	}

}

func initConfig() {
	// create the cache directory
	if err := os.MkdirAll(config.Main.CacheDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.CacheDir).Msg("Failed to create cache directory")
	}

	// create the download directory
	if err := os.MkdirAll(config.Main.DownloadDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.DownloadDir).Msg("Failed to create download directory")
	}
}

func initDB() {
	var err error
	mainDB, err = db.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
}
