// Package syncline models the lines a sync stream delivers to the client
// (spec.md §4.4) and parses both wire encodings the server may use: JSON
// text lines and a BSON-compatible binary encoding.
package syncline

import (
	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/priority"
)

// Kind discriminates the SyncLine union.
type Kind int

const (
	KindUnknown Kind = iota
	KindCheckpoint
	KindCheckpointDiff
	KindCheckpointComplete
	KindCheckpointPartiallyComplete
	KindData
	KindKeepAlive
)

// Line is the parsed form of one line delivered over a sync stream. Only
// the field matching Kind is populated; callers switch on Kind first.
type Line struct {
	Kind Kind

	Checkpoint                 Checkpoint
	CheckpointDiff             CheckpointDiff
	CheckpointComplete         CheckpointComplete
	CheckpointPartiallyComplete CheckpointPartiallyComplete
	Data                       DataLine
	KeepAlive                  TokenExpiresIn
}

// BucketChecksum is one bucket's reported checksum within a checkpoint or
// checkpoint diff (spec.md §4.4).
type BucketChecksum struct {
	Bucket   string
	Checksum checksum.Checksum

	// Priority is nil when the server omits it; such a bucket is treated
	// as priority.Lowest.
	Priority *priority.Priority

	// Count is the server's total op count for the bucket, used as the
	// progress target_count (and to detect a bucket that shrank).
	Count *int64

	// Subscriptions is the supplemented per-bucket subscription id list
	// (see SPEC_FULL.md's subscriptions addition); entries may be nil when
	// the server reports an anonymous subscription.
	Subscriptions []*int64
}

// Checkpoint is a full checkpoint: the authoritative bucket list and
// checksums as of last_op_id.
type Checkpoint struct {
	LastOpID        int64
	WriteCheckpoint *int64
	Buckets         []BucketChecksum
}

// CheckpointDiff is an incremental update against the previously announced
// checkpoint.
type CheckpointDiff struct {
	LastOpID        int64
	UpdatedBuckets  []BucketChecksum
	RemovedBuckets  []string
	WriteCheckpoint *int64
}

// CheckpointComplete announces that every bucket in the current checkpoint
// has been fully synced.
type CheckpointComplete struct{}

// CheckpointPartiallyComplete announces that every bucket at or above the
// given priority has been fully synced.
type CheckpointPartiallyComplete struct {
	Priority priority.Priority
}

// DataLine carries a batch of oplog entries for one bucket.
type DataLine struct {
	Bucket string
	Data   []OplogEntry
}

// OplogEntry is one wire-format oplog entry (spec.md §3, §4.5).
type OplogEntry struct {
	Checksum   checksum.Checksum
	OpID       int64
	Op         model.OpType
	ObjectID   *string
	ObjectType *string
	Subkey     *string
	Data       *string // raw JSON object text, nil for REMOVE/MOVE/CLEAR
}

// TokenExpiresIn is the token_expires_in keep-alive line, counted in
// seconds.
type TokenExpiresIn int32

// IsExpired reports whether the token has already expired.
func (t TokenExpiresIn) IsExpired() bool {
	return t <= 0
}

// ShouldPrefetch reports whether the client should refresh credentials
// proactively, ahead of outright expiry.
func (t TokenExpiresIn) ShouldPrefetch() bool {
	return !t.IsExpired() && t <= 30
}
