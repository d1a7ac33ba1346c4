package syncengine

// Diagnostics is a read-only snapshot of the engine's current iteration,
// supplementing the status struct with operator-facing detail the
// reference implementation exposes via crates/core/src/sync/diagnostics.rs
// (SPEC_FULL.md's supplemented features) — surfaced by
// `syncbase-shell status --verbose` rather than consumed by the state
// machine itself.
type Diagnostics struct {
	Tracking       bool
	BucketCount    int
	LastOpID       int64
	HasPendingSync bool
}

// Diagnostics returns a snapshot of the engine's current iteration.
func (e *Engine) Diagnostics() Diagnostics {
	d := Diagnostics{
		Tracking:       e.kind == stateTracking,
		HasPendingSync: e.validatedButNotApplied != nil,
	}
	if d.Tracking {
		d.BucketCount = len(e.tracking.buckets)
		d.LastOpID = e.tracking.lastOpID
	} else {
		d.BucketCount = len(e.localNames)
	}
	return d
}
