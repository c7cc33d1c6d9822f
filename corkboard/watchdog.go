package corkboard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gtorrent/torrent"
)

// watchdogRetryInterval is how long the watchdog waits after a tracker
// query failure before trying again.
const watchdogRetryInterval = 5 * time.Second

// maxBackoff caps the wait the tracker can impose between announces.
const maxBackoff = 2 * time.Minute

// Watchdog keeps the corkboard's peer table fresh by draining a
// tracker.TrackerSet indefinitely, grounded on the original's watchdog
// thread.
type Watchdog struct {
	board   *Corkboard
	tracker *torrent.TrackerSet
	log     zerolog.Logger
}

// NewWatchdog builds a watchdog bound to a corkboard and tracker set.
func NewWatchdog(board *Corkboard, tracker *torrent.TrackerSet, log zerolog.Logger) *Watchdog {
	return &Watchdog{board: board, tracker: tracker, log: log.With().Str("component", "watchdog").Logger()}
}

// Run drains the tracker until ctx is cancelled, refreshing the
// corkboard's peer table after each batch and honoring the tracker's
// back-off hint (capped at 2 minutes).
func (wd *Watchdog) Run(ctx context.Context) {
	wd.log.Debug().Msg("watchdog init")

	for {
		select {
		case <-ctx.Done():
			wd.log.Debug().Msg("exiting")
			return
		default:
		}

		var batch []string
		wait := watchdogRetryInterval
		for {
			peer, flow, err := wd.tracker.Next(ctx)
			if err != nil {
				wd.log.Debug().Err(err).Msg("error querying tracker")
				break
			}
			if peer != nil {
				batch = append(batch, peer.String())
			}
			if flow.Wait > 0 {
				wait = flow.Wait
				break
			}
			if flow.Done {
				break
			}
		}

		wd.board.UpsertFromTracker(batch)
		wd.log.Debug().Int("count", len(batch)).Msg("updated peer list")

		select {
		case <-ctx.Done():
			return
		case <-time.After(clampWait(wait, maxBackoff)):
		}
	}
}

func clampWait(wait, cap time.Duration) time.Duration {
	if wait > cap {
		return cap
	}
	return wait
}
