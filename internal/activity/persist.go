package activity

import (
	"context"
	"encoding/json"

	"github.com/flowforge/actrt/internal/snapshot"
)

// SaveSnapshot marshals GetState() and writes it to store under a.ID,
// conditional on expectedVersion when non-zero (spec.md §3.1/§4.13). A
// host calls this after a transition it wants durable across restarts;
// the core itself never calls it.
func (a *Activity) SaveSnapshot(ctx context.Context, store snapshot.Store, expectedVersion int64) (*snapshot.Record, error) {
	state := a.GetState()
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var opts *snapshot.PutOptions
	if expectedVersion != 0 {
		opts = &snapshot.PutOptions{ExpectedVersion: expectedVersion}
	}
	return store.Put(ctx, a.ID, blob, opts)
}

// LoadSnapshot reads the current record for a.ID from store and feeds its
// state into Recover. Returns snapshot.ErrNotFound if nothing has been
// saved for this activity yet.
func (a *Activity) LoadSnapshot(ctx context.Context, store snapshot.Store) (*snapshot.Record, error) {
	rec, err := store.Get(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, err
	}
	if err := a.Recover(state); err != nil {
		return nil, err
	}
	return rec, nil
}
