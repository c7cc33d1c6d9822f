package corkboard

import "errors"

// Errors specific to the corkboard coordinator. Peer/piece failures use
// the typed errors in the torrent package; these cover coordinator-level
// and configuration failures.
var (
	ErrCancelled = errors.New("cancelled")
	ErrConfig    = errors.New("config error")
	ErrNoPieces  = errors.New("no pieces available")
)
