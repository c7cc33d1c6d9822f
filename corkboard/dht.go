package corkboard

import (
	"context"
	"time"

	"gtorrent/torrent"
)

// dhtBatchInterval is the fixed back-off hint a real DHT iterator would
// report between query rounds (spec §4.3's "30-s interval hint").
const dhtBatchInterval = 30 * time.Second

// DHTIterator is a stub peer source: the repository's DHT implementation
// is stub-level per spec §9, so this always reports Done immediately
// with no peers. Kept as a real collaborator (not omitted) so the peer
// locator's fan-in shape doesn't special-case its absence.
type DHTIterator struct{}

// NewDHTIterator constructs the stub DHT source.
func NewDHTIterator() *DHTIterator { return &DHTIterator{} }

// Next always reports no peer and Done, honoring ctx cancellation.
func (d *DHTIterator) Next(ctx context.Context) (*torrent.Peer, torrent.Flow, error) {
	select {
	case <-ctx.Done():
		return nil, torrent.Flow{Done: true}, ctx.Err()
	default:
	}
	return nil, torrent.Flow{Wait: dhtBatchInterval, Done: true}, nil
}
