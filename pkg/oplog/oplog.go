// Package oplog implements insertion of incoming sync-line oplog entries
// into the bucket/oplog storage model (spec.md §4.5).
package oplog

import (
	"context"
	"database/sql"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/metrics"
	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/cuemby/syncbase/pkg/syncline"
)

// InsertBucketOperations applies one Data line's entries to bucket
// bucketName, following spec.md §4.5 step by step. It must run inside a
// single host transaction; partial application on error is the caller's
// problem to roll back.
func InsertBucketOperations(ctx context.Context, a storage.Adapter, tx *sql.Tx, bucketName string, entries []syncline.OplogEntry) error {
	bucketID, lastAppliedOp, err := a.LookupBucket(ctx, tx, bucketName)
	if err != nil {
		return err
	}
	sum, err := a.BucketSum(ctx, tx, bucketID)
	if err != nil {
		return err
	}

	empty := lastAppliedOp == 0
	var lastOp int64

	for _, entry := range entries {
		subkey := ""
		if entry.Subkey != nil {
			subkey = *entry.Subkey
		}
		var rowType, rowID string
		if entry.ObjectType != nil {
			rowType = *entry.ObjectType
		}
		if entry.ObjectID != nil {
			rowID = *entry.ObjectID
		}

		switch entry.Op {
		case model.OpClear:
			if err := applyClear(ctx, a, tx, bucketID, entry.Checksum, &sum, &empty); err != nil {
				return err
			}

		case model.OpPut, model.OpRemove:
			supersededHashes, err := a.DeleteSupersededOplogRows(ctx, tx, bucketID, rowType, rowID, subkey)
			if err != nil {
				return err
			}
			supersededReal := len(supersededHashes) > 0
			for _, h := range supersededHashes {
				sum.ApplySupersede(h)
			}

			if entry.Op == model.OpRemove {
				sum.ApplyRemoveOrMove(entry.Checksum)
				if !empty && supersededReal {
					if err := a.MarkUpdatedRow(ctx, tx, rowType, rowID); err != nil {
						return err
					}
				}
			} else {
				if err := a.InsertOplogEntry(ctx, tx, model.OplogEntry{
					BucketID: bucketID,
					OpID:     entry.OpID,
					Op:       model.OpPut,
					RowType:  rowType,
					RowID:    rowID,
					Data:     dataBytes(entry.Data),
					Checksum: entry.Checksum,
				}); err != nil {
					return err
				}
				sum.ApplyPut(entry.Checksum)
			}

		case model.OpMove:
			sum.ApplyRemoveOrMove(entry.Checksum)

		default:
			return syncerr.Protocolf("unhandled oplog op %q", entry.Op)
		}

		if entry.OpID > lastOp {
			lastOp = entry.OpID
		}
	}

	if lastOp > 0 {
		if err := a.SetBucketLastOp(ctx, tx, bucketID, lastOp); err != nil {
			return err
		}
	}
	if err := a.SetBucketSum(ctx, tx, bucketID, sum); err != nil {
		return err
	}
	if err := a.IncrementBucketCountSinceLast(ctx, tx, bucketID, int64(len(entries))); err != nil {
		return err
	}
	metrics.DataLinesProcessedTotal.Inc()
	metrics.OplogEntriesAppliedTotal.Add(float64(len(entries)))
	return nil
}

// applyClear implements the CLEAR branch of spec.md §4.5: every row
// currently backed by this bucket's oplog becomes an updated row (so the
// next materialization can drop it if no other bucket still supplies a
// PUT), the bucket's oplog is wiped, and its checksum accumulators reset.
func applyClear(ctx context.Context, a storage.Adapter, tx *sql.Tx, bucketID int64, hash checksum.Checksum, sum *checksum.BucketSum, empty *bool) error {
	rows, err := a.BucketRowIdentities(ctx, tx, bucketID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := a.MarkUpdatedRow(ctx, tx, r.RowType, r.RowID); err != nil {
			return err
		}
	}
	if err := a.DeleteBucketOplog(ctx, tx, bucketID); err != nil {
		return err
	}
	if err := a.SetBucketLastAppliedOp(ctx, tx, bucketID, 0); err != nil {
		return err
	}
	sum.ApplyClear(hash)
	*empty = true
	return nil
}

func dataBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}
