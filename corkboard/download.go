package corkboard

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"gtorrent/db/models"
	"gtorrent/torrent"
)

// Download wires a torrent's meta-info into a running corkboard:
// tracker set, peer locator, worker pool, watchdog, monitor, and
// seeder, all sharing one Corkboard. It blocks until every piece is
// Fetched (or ctx is cancelled), then assembles and returns the full
// content. Grounded on the original's corkboard_download orchestration
// function.
func Download(ctx context.Context, tor *torrent.Torrent, cfg *Config, db *gorm.DB, downloadID uint, log zerolog.Logger) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	board, err := New(tor, cfg.PeerID, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("building corkboard: %w", err)
	}

	me := &torrent.Peer{ID: cfg.PeerID, Port: cfg.Port}
	trackerSet, err := torrent.NewTrackerSet(tor, me)
	if err != nil {
		return nil, err
	}

	locatorCtx, cancelLocator := context.WithCancel(ctx)
	defer cancelLocator()

	locator := NewPeerLocator(trackerSet, NewDHTIterator())
	var locatorWG sync.WaitGroup
	locatorWG.Add(1)
	go func() {
		defer locatorWG.Done()
		if err := locator.Run(locatorCtx); err != nil {
			log.Debug().Err(err).Msg("peer locator exited")
		}
	}()
	go drainLocator(locatorCtx, board, locator, log)

	watchdog := NewWatchdog(board, trackerSet, log)
	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go watchdog.Run(watchdogCtx)

	monitor := NewMonitor(board, log, db, downloadID)
	monitor.ServeMetrics(cfg.MetricsAddr)
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go monitor.Run(monitorCtx)

	seeder := NewSeeder(board, log)
	seederCtx, cancelSeeder := context.WithCancel(ctx)
	defer cancelSeeder()
	go func() {
		if err := seeder.Run(seederCtx); err != nil {
			log.Warn().Err(err).Msg("seeder exited")
		}
	}()

	var killswitch atomic.Bool
	go func() {
		<-ctx.Done()
		killswitch.Store(true)
	}()

	var workersWG sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		w := NewWorker(i, board, tor, cfg, log)
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			w.Run(&killswitch)
		}()
	}
	workersWG.Wait()

	cancelLocator()
	cancelWatchdog()
	cancelMonitor()
	cancelSeeder()
	locator.Kill()
	locatorWG.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	data, err := board.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assembling completed download: %w", err)
	}

	if db != nil && downloadID != 0 {
		db.Model(&models.Download{}).Where("id = ?", downloadID).Updates(map[string]any{
			"status":          models.Complete,
			"downloaded_size": tor.Length,
		})
	}

	return data, nil
}

// drainLocator feeds the peer locator's discoveries into the corkboard
// as supplementary candidates, separate from the watchdog's
// batch-authoritative tracker refresh: a single discovered address
// never marks unrelated peers Inactive (see Corkboard.InsertOrRefresh).
func drainLocator(ctx context.Context, board *Corkboard, locator *PeerLocator, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case addr, ok := <-locator.Addresses():
			if !ok {
				return
			}
			board.InsertOrRefresh(addr)
		}
	}
}

// WriteOutput assembles a completed download's bytes to a single file
// at path, used by single-file torrents and by the CLI's convenience
// output mode for multi-file ones.
func WriteOutput(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
