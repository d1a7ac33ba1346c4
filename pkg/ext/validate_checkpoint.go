package ext

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/cuemby/syncbase/pkg/syncline"
)

// ValidateCheckpoint implements powersync_validate_checkpoint(json_checkpoint)
// (spec.md §6): compare each announced bucket's checksum against the
// locally stored oplog and report which buckets, if any, disagree.
func ValidateCheckpoint(ctx context.Context, a storage.Adapter, tx *sql.Tx, jsonCheckpoint string) (string, error) {
	line, err := syncline.ParseTextLine([]byte(fmt.Sprintf(`{"checkpoint":%s}`, jsonCheckpoint)))
	if err != nil {
		return "", err
	}
	if line.Kind != syncline.KindCheckpoint {
		return "", syncerr.Argumentf("powersync_validate_checkpoint: payload is not a checkpoint object")
	}

	var failed []string
	for _, bc := range line.Checkpoint.Buckets {
		id, _, err := a.LookupBucket(ctx, tx, bc.Bucket)
		if err != nil {
			return "", err
		}
		sum, err := a.BucketSum(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if sum.Add.Add(sum.Op) != bc.Checksum {
			failed = append(failed, bc.Bucket)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `{"valid":%t,"failed_buckets":[`, len(failed) == 0)
	for i, name := range failed {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q", name)
	}
	b.WriteString("]}")
	return b.String(), nil
}
