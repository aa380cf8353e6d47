package engine

import (
	"context"
)

// Fetcher performs the GET requests of a run.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// KeySource resolves key URIs to raw AES-128 keys.
type KeySource interface {
	GetOrFetch(ctx context.Context, uri string) ([]byte, error)
}

// ProgressFunc receives the number of finished segment tasks, successful
// or not, and the total. Calls are serialized and completed increases by
// one on every call.
type ProgressFunc func(completed, total int)

// StateFunc is called on every orchestrator state transition.
type StateFunc func(State)
