package orchestrator

import "errors"

// Configuration errors. These fail fast at startup or submission time; they
// are never folded into job exhaustion.
var (
	ErrUnknownBackend = errors.New("unknown backend id")
	ErrNoBackends     = errors.New("no backends registered")
)
