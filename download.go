package main

import (
	"context"
	"fmt"
	"gtorrent/config"
	"gtorrent/corkboard"
	"gtorrent/db/models"
	"gtorrent/torrent"
	"gtorrent/utils"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DownloadTorrent initiates the download of content defined in a torrent file.
// It reads the torrent file, parses its contents, copies it to the cache directory,
// creates a database entry for the download, and runs the corkboard coordinator
// to completion.
// Parameters:
//   - torrentFile: Path to the .torrent file to be downloaded
//
// Returns an error if any step of the process fails, or nil on success.
func DownloadTorrent(torrentFile string) error {
	log.Info().Msg("Downloading torrent: " + torrentFile)

	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}

	// copy the torrent file into cacheDir
	torrentFilename := filepath.Base(torrentFile)

	// write the torrent file to the cacheDir
	cachePath := filepath.Join(config.Main.CacheDir, torrentFilename)
	err = utils.CopyFile(torrentFile, cachePath)
	if err != nil {
		return err
	}

	// check the mainDB for the torrent, if not found, add it (this also
	// records one Tracker row per announce URL)
	dlModel, err := mainDB.CreateDownload(tor, cachePath)
	if err != nil {
		return err
	}

	downloadPath := filepath.Join(config.Main.DownloadDir, tor.Name)
	if err := os.MkdirAll(downloadPath, os.ModePerm); err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = fmt.Sprintf("Failed to create download directory: %s", err.Error())
		mainDB.UpdateDownload(dlModel)
		return err
	}

	dlModel.Status = models.DownloadInProgress
	mainDB.UpdateDownload(dlModel)

	me := torrent.PeerMe()
	cfg := corkboard.DefaultConfig(me.ID, me.Port)

	log.Info().Msg("Starting corkboard download")
	data, err := corkboard.Download(context.Background(), tor, cfg, mainDB.GormDB(), dlModel.ID, log.Logger)
	if err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	if err := writeMultiFileOutput(tor, downloadPath, data); err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = fmt.Sprintf("Failed to write output: %s", err.Error())
		mainDB.UpdateDownload(dlModel)
		return err
	}

	log.Info().Msg("Download completed successfully")
	return nil
}

// writeMultiFileOutput places a fully-assembled download's bytes onto
// disk, splitting across tor.FileList's byte ranges for multi-file
// torrents and writing a single file otherwise. Adapted from the
// manual downloader's file-layout math, driven by a finished
// corkboard.Download result instead of per-piece writes.
func writeMultiFileOutput(tor *torrent.Torrent, downloadPath string, data []byte) error {
	if len(tor.FileList) == 0 {
		return corkboard.WriteOutput(filepath.Join(downloadPath, tor.Name), data)
	}

	var offset int64
	for _, file := range tor.FileList {
		filePath := filepath.Join(downloadPath, file.Path)
		if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
			return err
		}

		end := offset + file.Length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if err := os.WriteFile(filePath, data[offset:end], 0o644); err != nil {
			return err
		}
		offset += file.Length
	}
	return nil
}
