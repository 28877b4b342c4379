package channel

import "context"

// Store is the durable persistence surface for channel state. Exactly one
// implementation exists (internal/store/postgres), but the interface lets
// the engine and its tests depend on behavior, not a driver.
type Store interface {
	// LoadAll returns every persisted channel, keyed by canonical channel
	// id hex, with recipients ordered by position ascending. A parse
	// failure on any stored field is a fatal load error, not a partial
	// or zero-valued result.
	LoadAll(ctx context.Context) (map[string]*State, error)
	// Save upserts the channel header and all current recipient rows in
	// a single transaction. Never deletes recipient rows.
	Save(ctx context.Context, s *State) error
}
