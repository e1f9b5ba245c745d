// Package cull holds the per-sweep state a cull orchestration threads
// through its operations instead of process-global state (SPEC_FULL.md §3
// and §9 "Process-global state"): the live-SHA set and the cull UUID. The
// sweep's ctfile list and keep/drop partition live on driver/cull's own
// per-sweep state, not on Session.
package cull

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/ctfile/ctengine/internal/shaset"
)

// Session is one cull sweep's scratch state: the live-SHA set accumulated
// while walking kept manifests, and the 64-bit UUID identifying this sweep
// to the server across cull-setup/cull-shas/cull-complete.
type Session struct {
	UUID uint64
	Live *shaset.Set
}

// NewSession starts a fresh sweep with a new random UUID.
func NewSession() (*Session, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	return &Session{
		UUID: binary.BigEndian.Uint64(b[:]),
		Live: shaset.New(),
	}, nil
}
