package corkboard

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gtorrent/torrent"
)

// PeerLocator fans the tracker iterator and the DHT stub into a single
// stream of candidate addresses, buffered to 64 entries; a source
// blocks while the buffer is full. There is no channel for handing
// used addresses back to the locator. Grounded on the original's
// peer_locator.rs fan-in. Uses errgroup rather than raw goroutine +
// WaitGroup bookkeeping, a domain-stack addition (see DESIGN.md).
type PeerLocator struct {
	tracker *torrent.TrackerSet
	dht     *DHTIterator
	addrs   chan string
	killed  atomic.Bool
}

// NewPeerLocator builds a locator over a tracker set and the DHT stub.
func NewPeerLocator(tracker *torrent.TrackerSet, dht *DHTIterator) *PeerLocator {
	return &PeerLocator{
		tracker: tracker,
		dht:     dht,
		addrs:   make(chan string, 64),
	}
}

// Addresses returns the channel of discovered peer addresses.
func (pl *PeerLocator) Addresses() <-chan string { return pl.addrs }

// Run fans both sources into Addresses() until ctx is cancelled or Kill
// is called. Returns once both source goroutines have exited.
func (pl *PeerLocator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if pl.killed.Load() {
				return nil
			}
			peer, flow, err := pl.tracker.Next(ctx)
			if err != nil {
				return nil
			}
			if peer != nil {
				select {
				case pl.addrs <- peer.String():
				case <-ctx.Done():
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			if flow.Wait > 0 {
				select {
				case <-time.After(flow.Wait):
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		for {
			if pl.killed.Load() {
				return nil
			}
			peer, flow, err := pl.dht.Next(ctx)
			if err != nil {
				return nil
			}
			if peer != nil {
				select {
				case pl.addrs <- peer.String():
				case <-ctx.Done():
					return nil
				}
			}
			if flow.Done {
				return nil
			}
		}
	})

	return g.Wait()
}

// Kill flips the locator's stop flag, observed by both fan-in
// goroutines between batches.
func (pl *PeerLocator) Kill() {
	pl.killed.Store(true)
}
