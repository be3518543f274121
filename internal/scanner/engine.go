package scanner

import (
	"context"
	"io"
)

// EngineStatus is the tagged outcome of an antivirus engine invocation.
// Unavailable is a first-class state, not an error: an unreachable scanner is
// an operational condition the caller must decide a policy for.
type EngineStatus int

const (
	EngineClean EngineStatus = iota
	EngineInfected
	EngineUnavailable
)

// EngineResult carries the status plus the signature name (infected) or the
// failure reason (unavailable).
type EngineResult struct {
	Status  EngineStatus
	Details string
}

// Engine is the capability the pipeline requires from an antivirus scanner:
// scan bytes, answer clean/infected/unavailable within the context deadline.
// Any conforming local or remote scanner can be substituted.
type Engine interface {
	ScanBytes(ctx context.Context, r io.Reader) EngineResult
}
