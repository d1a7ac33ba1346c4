// Package materialize implements sync_local (spec.md §4.6): projecting
// validated oplog state into the host's typed data tables.
package materialize

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/cuemby/syncbase/pkg/metrics"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncline"
)

// Outcome is the result of a SyncLocal pass (spec.md §4.6).
type Outcome int

const (
	// ChangesApplied means the checkpoint's rows were materialized.
	ChangesApplied Outcome = iota
	// PendingLocalChanges means the upload queue was not drained; no rows
	// were touched.
	PendingLocalChanges
	// ChecksumFailure means one or more buckets failed validation; those
	// buckets were deleted and the caller must close its iteration.
	ChecksumFailure
)

// Result carries a SyncLocal outcome plus, on ChecksumFailure, the buckets
// that failed validation.
type Result struct {
	Outcome       Outcome
	FailedBuckets []string
}

// inSyncLocal is the process-wide re-entrancy flag spec.md §4.6 and §5
// require: triggers inspect it (via IsActive) to skip CRUD capture for
// engine-originated writes.
var inSyncLocal int32

// IsActive reports whether a SyncLocal pass is currently running on this
// process. No trigger or scalar function in this module reads it: SyncLocal
// writes the ps_data__ tables directly, which the view triggers that
// capture CRUD do not see.
func IsActive() bool {
	return atomic.LoadInt32(&inSyncLocal) != 0
}

// SyncLocal runs one materialization pass for a full checkpoint
// (scope == nil) or a priority-scoped partial checkpoint.
func SyncLocal(ctx context.Context, a storage.Adapter, tx *sql.Tx, cp syncline.Checkpoint, scope *priority.Priority) (Result, error) {
	timer := metrics.NewTimer()
	result, err := syncLocalInner(ctx, a, tx, cp, scope)
	timer.ObserveDuration(metrics.SyncLocalDuration)
	if err != nil {
		return result, err
	}

	switch result.Outcome {
	case ChangesApplied:
		metrics.SyncLocalTotal.WithLabelValues("applied").Inc()
		if scope == nil {
			metrics.CheckpointsAppliedTotal.Inc()
		}
	case PendingLocalChanges:
		metrics.SyncLocalTotal.WithLabelValues("pending_local_changes").Inc()
	case ChecksumFailure:
		metrics.SyncLocalTotal.WithLabelValues("checksum_failure").Inc()
		metrics.ChecksumFailuresTotal.Add(float64(len(result.FailedBuckets)))
	}
	return result, nil
}

func syncLocalInner(ctx context.Context, a storage.Adapter, tx *sql.Tx, cp syncline.Checkpoint, scope *priority.Priority) (Result, error) {
	atomic.StoreInt32(&inSyncLocal, 1)
	defer atomic.StoreInt32(&inSyncLocal, 0)

	if scope == nil || *scope != priority.Highest {
		drained, err := uploadQueueDrained(ctx, a, tx, cp.LastOpID)
		if err != nil {
			return Result{}, err
		}
		if !drained {
			return Result{Outcome: PendingLocalChanges}, nil
		}
	}

	inScope := inScopeBuckets(cp.Buckets, scope)

	failed, err := validateChecksums(ctx, a, tx, inScope)
	if err != nil {
		return Result{}, err
	}
	if len(failed) > 0 {
		for _, name := range failed {
			if err := a.DeleteBucketByName(ctx, tx, name); err != nil {
				return Result{}, err
			}
		}
		return Result{Outcome: ChecksumFailure, FailedBuckets: failed}, nil
	}

	bucketIDs := make([]int64, 0, len(inScope))
	for _, bc := range inScope {
		id, _, err := a.LookupBucket(ctx, tx, bc.Bucket)
		if err != nil {
			return Result{}, err
		}
		if err := a.SetBucketLastOp(ctx, tx, id, cp.LastOpID); err != nil {
			return Result{}, err
		}
		bucketIDs = append(bucketIDs, id)
	}

	if scope == nil && cp.WriteCheckpoint != nil {
		localID, _, err := a.LookupBucket(ctx, tx, storage.LocalBucketName)
		if err != nil {
			return Result{}, err
		}
		if err := a.SetBucketLastOp(ctx, tx, localID, *cp.WriteCheckpoint); err != nil {
			return Result{}, err
		}
	}

	rows, err := a.RowsChangedSince(ctx, tx, bucketIDs)
	if err != nil {
		return Result{}, err
	}
	pending, err := a.UpdatedRows(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	rows = mergeRows(rows, pending)

	for _, r := range rows {
		if err := projectRow(ctx, a, tx, r.RowType, r.RowID, bucketIDs); err != nil {
			return Result{}, err
		}
	}

	for _, id := range bucketIDs {
		if err := a.SetBucketLastAppliedOp(ctx, tx, id, cp.LastOpID); err != nil {
			return Result{}, err
		}
	}

	now := time.Unix(a.WallClockSeconds(), 0).UTC()
	if scope == nil {
		if err := a.ClearUpdatedRows(ctx, tx); err != nil {
			return Result{}, err
		}
		for _, id := range bucketIDs {
			if err := a.RolloverBucketProgress(ctx, tx, id); err != nil {
				return Result{}, err
			}
		}
		if err := a.SetSyncState(ctx, tx, priority.Sentinel, now); err != nil {
			return Result{}, err
		}
	} else {
		if err := a.SetSyncState(ctx, tx, *scope, now); err != nil {
			return Result{}, err
		}
		if err := a.DeleteSyncStateAbove(ctx, tx, *scope); err != nil {
			return Result{}, err
		}
	}

	return Result{Outcome: ChangesApplied}, nil
}

// uploadQueueDrained implements the preflight gate for anything below
// the highest priority: the CRUD queue must be empty, and the $local
// sentinel bucket's last_applied_op must not exceed lastOpID. There is no
// separate target op for $local; the check reads last_applied_op, which
// SyncLocal advances only for buckets named in a checkpoint.
func uploadQueueDrained(ctx context.Context, a storage.Adapter, tx *sql.Tx, lastOpID int64) (bool, error) {
	_, localLastOp, err := a.LookupBucket(ctx, tx, storage.LocalBucketName)
	if err != nil {
		return false, err
	}
	if localLastOp > lastOpID {
		return false, nil
	}
	empty, err := a.CRUDQueueEmpty(ctx, tx)
	if err != nil {
		return false, err
	}
	return empty, nil
}

func inScopeBuckets(all []syncline.BucketChecksum, scope *priority.Priority) []syncline.BucketChecksum {
	if scope == nil {
		return all
	}
	out := make([]syncline.BucketChecksum, 0, len(all))
	for _, bc := range all {
		p := priority.Lowest
		if bc.Priority != nil {
			p = *bc.Priority
		}
		if p.AtLeastAsHighAs(*scope) {
			out = append(out, bc)
		}
	}
	return out
}

func validateChecksums(ctx context.Context, a storage.Adapter, tx *sql.Tx, buckets []syncline.BucketChecksum) ([]string, error) {
	var failed []string
	for _, bc := range buckets {
		id, _, err := a.LookupBucket(ctx, tx, bc.Bucket)
		if err != nil {
			return nil, err
		}
		sum, err := a.BucketSum(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		actual := sum.Add.Add(sum.Op)
		if actual != bc.Checksum {
			failed = append(failed, bc.Bucket)
		}
	}
	return failed, nil
}

func mergeRows[T comparable](a, b []T) []T {
	seen := make(map[T]struct{}, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, v := range append(append([]T{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// projectRow implements the per-row step of §4.6's projection: find the
// highest-op_id oplog entry's data across the given buckets and write it
// (or delete the row if none remains).
func projectRow(ctx context.Context, a storage.Adapter, tx *sql.Tx, rowType, rowID string, bucketIDs []int64) error {
	data, ok, err := a.LatestOplogData(ctx, tx, rowType, rowID, bucketIDs)
	if err != nil {
		return err
	}

	known, err := a.KnownDataTable(ctx, tx, rowType)
	if err != nil {
		return err
	}

	if !ok {
		if known {
			return a.DeleteDataRow(ctx, tx, rowType, rowID)
		}
		return a.DeleteUntypedRow(ctx, tx, rowType, rowID)
	}
	if known {
		return a.UpsertDataRow(ctx, tx, rowType, rowID, data)
	}
	return a.UpsertUntypedRow(ctx, tx, rowType, rowID, data)
}
