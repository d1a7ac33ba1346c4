package syncline

import (
	"strconv"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/tidwall/gjson"
)

// ParseTextLine parses one JSON-encoded sync line. Unrecognized top-level
// keys decode to Line{Kind: KindUnknown} rather than an error, matching the
// server's license to introduce new line types without breaking old
// clients.
func ParseTextLine(raw []byte) (Line, error) {
	if !gjson.ValidBytes(raw) {
		return Line{}, syncerr.Protocolf("sync line is not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Line{}, syncerr.Protocolf("sync line must be a JSON object")
	}

	var (
		line Line
		err  error
		seen string
	)
	root.ForEach(func(key, value gjson.Result) bool {
		if seen != "" {
			err = syncerr.Protocolf("sync line has multiple top-level keys: %q and %q", seen, key.String())
			return false
		}
		seen = key.String()

		switch key.String() {
		case "checkpoint":
			line.Kind = KindCheckpoint
			line.Checkpoint, err = parseCheckpoint(value)
		case "checkpoint_diff":
			line.Kind = KindCheckpointDiff
			line.CheckpointDiff, err = parseCheckpointDiff(value)
		case "checkpoint_complete":
			line.Kind = KindCheckpointComplete
		case "partial_checkpoint_complete":
			line.Kind = KindCheckpointPartiallyComplete
			line.CheckpointPartiallyComplete, err = parseCheckpointPartiallyComplete(value)
		case "data":
			line.Kind = KindData
			line.Data, err = parseDataLine(value)
		case "token_expires_in":
			line.Kind = KindKeepAlive
			line.KeepAlive = TokenExpiresIn(value.Int())
		default:
			line.Kind = KindUnknown
		}
		return err == nil
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

func parseDecimalInt64(v gjson.Result, field string) (int64, error) {
	switch v.Type {
	case gjson.String:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, syncerr.Protocolf("%s is not a decimal integer: %q", field, v.Str)
		}
		return n, nil
	case gjson.Number:
		return int64(v.Num), nil
	default:
		return 0, syncerr.Protocolf("%s must be a string or number", field)
	}
}

func parseOptionalDecimalInt64(v gjson.Result, field string) (*int64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	n, err := parseDecimalInt64(v, field)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseChecksum(v gjson.Result) checksum.Checksum {
	return checksum.FromInt64(v.Int())
}

func parseBucketChecksum(v gjson.Result) (BucketChecksum, error) {
	bc := BucketChecksum{
		Bucket:   v.Get("bucket").String(),
		Checksum: parseChecksum(v.Get("checksum")),
	}
	if p := v.Get("priority"); p.Exists() && p.Type != gjson.Null {
		pv := priority.Priority(p.Int())
		bc.Priority = &pv
	}
	if c := v.Get("count"); c.Exists() && c.Type != gjson.Null {
		cv := c.Int()
		bc.Count = &cv
	}
	for _, sub := range v.Get("subscriptions").Array() {
		if sub.Type == gjson.Null {
			bc.Subscriptions = append(bc.Subscriptions, nil)
			continue
		}
		n, err := parseDecimalInt64(sub, "subscriptions[]")
		if err != nil {
			return BucketChecksum{}, err
		}
		bc.Subscriptions = append(bc.Subscriptions, &n)
	}
	return bc, nil
}

func parseBucketChecksumList(v gjson.Result, field string) ([]BucketChecksum, error) {
	arr := v.Array()
	out := make([]BucketChecksum, 0, len(arr))
	for _, item := range arr {
		bc, err := parseBucketChecksum(item)
		if err != nil {
			return nil, syncerr.Protocolf("%s: %w", field, err)
		}
		out = append(out, bc)
	}
	return out, nil
}

func parseCheckpoint(v gjson.Result) (Checkpoint, error) {
	lastOpID, err := parseDecimalInt64(v.Get("last_op_id"), "checkpoint.last_op_id")
	if err != nil {
		return Checkpoint{}, err
	}
	writeCheckpoint, err := parseOptionalDecimalInt64(v.Get("write_checkpoint"), "checkpoint.write_checkpoint")
	if err != nil {
		return Checkpoint{}, err
	}
	buckets, err := parseBucketChecksumList(v.Get("buckets"), "checkpoint.buckets")
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{LastOpID: lastOpID, WriteCheckpoint: writeCheckpoint, Buckets: buckets}, nil
}

func parseCheckpointDiff(v gjson.Result) (CheckpointDiff, error) {
	lastOpID, err := parseDecimalInt64(v.Get("last_op_id"), "checkpoint_diff.last_op_id")
	if err != nil {
		return CheckpointDiff{}, err
	}
	writeCheckpoint, err := parseOptionalDecimalInt64(v.Get("write_checkpoint"), "checkpoint_diff.write_checkpoint")
	if err != nil {
		return CheckpointDiff{}, err
	}
	updated, err := parseBucketChecksumList(v.Get("updated_buckets"), "checkpoint_diff.updated_buckets")
	if err != nil {
		return CheckpointDiff{}, err
	}
	var removed []string
	for _, item := range v.Get("removed_buckets").Array() {
		removed = append(removed, item.String())
	}
	return CheckpointDiff{
		LastOpID:        lastOpID,
		UpdatedBuckets:  updated,
		RemovedBuckets:  removed,
		WriteCheckpoint: writeCheckpoint,
	}, nil
}

func parseCheckpointPartiallyComplete(v gjson.Result) (CheckpointPartiallyComplete, error) {
	return CheckpointPartiallyComplete{Priority: priority.Priority(v.Get("priority").Int())}, nil
}

func parseOpType(s string) (model.OpType, error) {
	switch s {
	case string(model.OpPut):
		return model.OpPut, nil
	case string(model.OpRemove):
		return model.OpRemove, nil
	case string(model.OpMove):
		return model.OpMove, nil
	case string(model.OpClear):
		return model.OpClear, nil
	default:
		return "", syncerr.Protocolf("unknown oplog op %q", s)
	}
}

func optionalString(v gjson.Result) *string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	s := v.String()
	return &s
}

func parseOplogEntry(v gjson.Result) (OplogEntry, error) {
	opID, err := parseDecimalInt64(v.Get("op_id"), "data[].op_id")
	if err != nil {
		return OplogEntry{}, err
	}
	op, err := parseOpType(v.Get("op").String())
	if err != nil {
		return OplogEntry{}, err
	}
	entry := OplogEntry{
		Checksum:   parseChecksum(v.Get("checksum")),
		OpID:       opID,
		Op:         op,
		ObjectID:   optionalString(v.Get("object_id")),
		ObjectType: optionalString(v.Get("object_type")),
		Subkey:     optionalString(v.Get("subkey")),
	}
	if d := v.Get("data"); d.Exists() && d.Type != gjson.Null {
		raw := d.Raw
		if d.Type == gjson.String {
			raw = d.Str
		}
		entry.Data = &raw
	}
	return entry, nil
}

func parseDataLine(v gjson.Result) (DataLine, error) {
	var entries []OplogEntry
	for _, item := range v.Get("data").Array() {
		entry, err := parseOplogEntry(item)
		if err != nil {
			return DataLine{}, err
		}
		entries = append(entries, entry)
	}
	return DataLine{Bucket: v.Get("bucket").String(), Data: entries}, nil
}
