package torrent

import "errors"

// Error kinds per the error handling design: wire/protocol failures are
// distinguished from I/O failures and stalls so callers (the corkboard
// worker in particular) can make per-peer state decisions without string
// matching.
var (
	ErrProtocol       = errors.New("protocol error")
	ErrIO             = errors.New("io error")
	ErrPeerStalled    = errors.New("peer stalled")
	ErrHashMismatch   = errors.New("piece hash mismatch")
	ErrTrackerFailure = errors.New("tracker failure")
	ErrCancelled      = errors.New("cancelled")
	ErrBencode        = errors.New("bencode error")
)
