package corkboard

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"gtorrent/db/models"
)

// monitorInterval is how often the monitor takes a read-lock and reports.
const monitorInterval = 5 * time.Second

// Monitor periodically reports corkboard statistics: always via zerolog
// (grounded on the original's diagnostic monitor thread), and as a
// domain-stack extension also via Prometheus gauges and a gorm progress
// snapshot when configured.
type Monitor struct {
	board      *Corkboard
	log        zerolog.Logger
	db         *gorm.DB
	downloadID uint

	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

// NewMonitor builds a monitor. db and downloadID may be zero-valued to
// skip persistence; the Prometheus listener is started separately by
// ServeMetrics, which does nothing for an empty addr.
func NewMonitor(board *Corkboard, log zerolog.Logger, db *gorm.DB, downloadID uint) *Monitor {
	reg := prometheus.NewRegistry()
	gauges := map[string]prometheus.Gauge{
		"peers_total":     newGauge(reg, "gtorrent_peers_total", "Total known peers."),
		"peers_fresh":     newGauge(reg, "gtorrent_peers_fresh", "Peers in the fresh state."),
		"peers_active":    newGauge(reg, "gtorrent_peers_active", "Peers actively connected."),
		"peers_error":     newGauge(reg, "gtorrent_peers_error", "Peers in the terminal error state."),
		"pieces_total":    newGauge(reg, "gtorrent_pieces_total", "Total pieces in the torrent."),
		"pieces_fetched":  newGauge(reg, "gtorrent_pieces_fetched", "Pieces fully downloaded and verified."),
		"pieces_inflight": newGauge(reg, "gtorrent_pieces_inflight", "Pieces currently in progress."),
	}

	return &Monitor{
		board:      board,
		log:        log.With().Str("component", "monitor").Logger(),
		db:         db,
		downloadID: downloadID,
		registry:   reg,
		gauges:     gauges,
	}
}

func newGauge(reg *prometheus.Registry, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	reg.MustRegister(g)
	return g
}

// ServeMetrics starts the Prometheus HTTP endpoint in the background if
// addr is non-empty. Returns immediately; logs and gives up on listener
// failure rather than aborting the download.
func (m *Monitor) ServeMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.log.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}

// Run reports statistics every monitorInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Debug().Msg("monitor init")
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		m.report()
		select {
		case <-ctx.Done():
			m.log.Debug().Msg("exiting")
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) report() {
	s := m.board.Snapshot()

	m.log.Info().
		Int("peers_total", s.TotalPeers).
		Int("peers_fresh", s.FreshPeers).
		Int("peers_connecting", s.ConnectingPeers).
		Int("peers_active", s.ActiveClaimed+s.ActiveUnclaimed).
		Int("peers_superceded", s.SupercededPeers).
		Int("peers_error", s.ErrorPeers).
		Int("pieces_total", s.TotalPieces).
		Int("pieces_unfetched", s.UnfetchedPieces).
		Int("pieces_inprogress", s.InProgressPieces).
		Int("pieces_fetched", s.FetchedPieces).
		Msg("download progress")

	m.gauges["peers_total"].Set(float64(s.TotalPeers))
	m.gauges["peers_fresh"].Set(float64(s.FreshPeers))
	m.gauges["peers_active"].Set(float64(s.ActiveClaimed + s.ActiveUnclaimed))
	m.gauges["peers_error"].Set(float64(s.ErrorPeers))
	m.gauges["pieces_total"].Set(float64(s.TotalPieces))
	m.gauges["pieces_fetched"].Set(float64(s.FetchedPieces))
	m.gauges["pieces_inflight"].Set(float64(s.InProgressPieces))

	if m.db != nil && m.downloadID != 0 {
		totalPieces := s.TotalPieces
		if totalPieces == 0 {
			totalPieces = 1
		}
		downloadedSize := m.board.Torrent.Length * int64(s.FetchedPieces) / int64(totalPieces)
		m.db.Model(&models.Download{}).Where("id = ?", m.downloadID).Updates(map[string]any{
			"downloaded_size": downloadedSize,
		})
	}
}
