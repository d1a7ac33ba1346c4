package syncline

import (
	"fmt"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"go.mongodb.org/mongo-driver/bson/bsoncore"
)

// embeddedDocumentKey mirrors the original decoder's SPECIAL_CASE_EMBEDDED_DOCUMENT
// sentinel (spec.md §9.4): a caller can ask for a sub-document's raw bytes
// without us recursively parsing it, which matters for the oplog data field
// when the server sends it as an embedded document rather than a JSON
// string. No parser in this package reads it: sub-documents are always
// parsed through subDocument, and an oplog entry's data field is accepted
// only as a string.
const embeddedDocumentKey = "\x00SpecialCaseEmbedDoc"

// ParseBinaryLine parses one BSON-encoded sync line (spec.md §4.4, §9.4).
// The top-level document must have exactly one element, whose key names the
// line variant and whose value is itself a document holding that variant's
// fields.
func ParseBinaryLine(raw []byte) (Line, error) {
	doc, err := topLevelDocument(raw)
	if err != nil {
		return Line{}, err
	}

	elems, err := doc.Elements()
	if err != nil {
		return Line{}, syncerr.Protocolf("sync line: %w", err)
	}
	if len(elems) != 1 {
		return Line{}, syncerr.Protocolf("sync line document must have exactly one element, got %d", len(elems))
	}
	elem := elems[0]

	var line Line
	switch elem.Key() {
	case "checkpoint":
		line.Kind = KindCheckpoint
		line.Checkpoint, err = parseBinCheckpoint(elem.Value())
	case "checkpoint_diff":
		line.Kind = KindCheckpointDiff
		line.CheckpointDiff, err = parseBinCheckpointDiff(elem.Value())
	case "checkpoint_complete":
		line.Kind = KindCheckpointComplete
	case "partial_checkpoint_complete":
		line.Kind = KindCheckpointPartiallyComplete
		line.CheckpointPartiallyComplete, err = parseBinCheckpointPartiallyComplete(elem.Value())
	case "data":
		line.Kind = KindData
		line.Data, err = parseBinDataLine(elem.Value())
	case "token_expires_in":
		line.Kind = KindKeepAlive
		var n int32
		n, err = binValueAsInt32(elem.Value())
		line.KeepAlive = TokenExpiresIn(n)
	default:
		line.Kind = KindUnknown
	}
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

func topLevelDocument(raw []byte) (bsoncore.Document, error) {
	doc := bsoncore.Document(raw)
	if _, err := doc.Validate(); err != nil {
		return nil, translateBsonError(raw, err)
	}
	return doc, nil
}

// translateBsonError reports input shorter than a length prefix as an
// end-of-file error at offset 0; every other failure carries bsoncore's
// validation message, which does not include a byte offset.
func translateBsonError(raw []byte, err error) error {
	if len(raw) < 4 {
		return syncerr.Protocolf("sync line: unexpected end of file at offset 0")
	}
	return syncerr.Protocolf("sync line: malformed BSON document: %w", err)
}

// subDocument returns the element list backing v, accepting both BSON
// documents and arrays: the two share the same on-wire layout (length
// prefix, elements, trailing zero), and the encoder uses arrays for the
// "data"/"buckets"/"subscriptions" lists but documents everywhere else.
func subDocument(v bsoncore.Value) (bsoncore.Document, error) {
	var doc bsoncore.Document
	switch v.Type {
	case 0x03:
		d, ok := v.DocumentOK()
		if !ok {
			return nil, syncerr.Protocolf("malformed document")
		}
		doc = d
	case 0x04:
		d, ok := v.ArrayOK()
		if !ok {
			return nil, syncerr.Protocolf("malformed array")
		}
		doc = bsoncore.Document(d)
	default:
		return nil, syncerr.Protocolf("expected a document or array, got BSON type %s", v.Type)
	}
	if _, err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("malformed nested document: %w", err)
	}
	return doc, nil
}

func lookup(doc bsoncore.Document, key string) (bsoncore.Value, bool) {
	return doc.Lookup(key), doc.Lookup(key).Type != 0
}

func binValueAsInt64(v bsoncore.Value) (int64, error) {
	switch v.Type {
	case 0x10: // int32
		n, ok := v.Int32OK()
		if !ok {
			return 0, syncerr.Protocolf("malformed int32")
		}
		return int64(n), nil
	case 0x12: // int64
		n, ok := v.Int64OK()
		if !ok {
			return 0, syncerr.Protocolf("malformed int64")
		}
		return n, nil
	case 0x02: // string, the decimal-string-as-int64 convention shared with the JSON encoding
		s, ok := v.StringValueOK()
		if !ok {
			return 0, syncerr.Protocolf("malformed string")
		}
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return 0, syncerr.Protocolf("not a decimal integer: %q", s)
		}
		return n, nil
	case 0x01: // double
		d, ok := v.DoubleOK()
		if !ok {
			return 0, syncerr.Protocolf("malformed double")
		}
		return int64(d), nil
	default:
		return 0, syncerr.Protocolf("expected an integer-like BSON type, got %s", v.Type)
	}
}

func binValueAsInt32(v bsoncore.Value) (int32, error) {
	n, err := binValueAsInt64(v)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func binValueAsChecksum(v bsoncore.Value) (checksum.Checksum, error) {
	n, err := binValueAsInt64(v)
	if err != nil {
		return 0, err
	}
	return checksum.FromInt64(n), nil
}

func binValueAsString(v bsoncore.Value) (string, error) {
	s, ok := v.StringValueOK()
	if !ok {
		return "", syncerr.Protocolf("expected a string, got BSON type %s", v.Type)
	}
	return s, nil
}

func binOptionalString(doc bsoncore.Document, key string) (*string, error) {
	v, ok := lookup(doc, key)
	if !ok || v.Type == 0x0A { // null
		return nil, nil
	}
	s, err := binValueAsString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &s, nil
}

func binOptionalInt64(doc bsoncore.Document, key string) (*int64, error) {
	v, ok := lookup(doc, key)
	if !ok || v.Type == 0x0A {
		return nil, nil
	}
	n, err := binValueAsInt64(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &n, nil
}

func parseBinBucketChecksum(v bsoncore.Value) (BucketChecksum, error) {
	doc, err := subDocument(v)
	if err != nil {
		return BucketChecksum{}, err
	}
	bc := BucketChecksum{}
	if bucket, ok := lookup(doc, "bucket"); ok {
		bc.Bucket, err = binValueAsString(bucket)
		if err != nil {
			return BucketChecksum{}, err
		}
	}
	if cs, ok := lookup(doc, "checksum"); ok {
		bc.Checksum, err = binValueAsChecksum(cs)
		if err != nil {
			return BucketChecksum{}, err
		}
	}
	if p, ok := lookup(doc, "priority"); ok && p.Type != 0x0A {
		n, err := binValueAsInt32(p)
		if err != nil {
			return BucketChecksum{}, err
		}
		pv := priority.Priority(n)
		bc.Priority = &pv
	}
	bc.Count, err = binOptionalInt64(doc, "count")
	if err != nil {
		return BucketChecksum{}, err
	}
	if subs, ok := lookup(doc, "subscriptions"); ok {
		subDoc, err := subDocument(subs)
		if err != nil {
			return BucketChecksum{}, err
		}
		elems, err := subDoc.Elements()
		if err != nil {
			return BucketChecksum{}, err
		}
		for _, e := range elems {
			if e.Value().Type == 0x0A {
				bc.Subscriptions = append(bc.Subscriptions, nil)
				continue
			}
			n, err := binValueAsInt64(e.Value())
			if err != nil {
				return BucketChecksum{}, err
			}
			bc.Subscriptions = append(bc.Subscriptions, &n)
		}
	}
	return bc, nil
}

func parseBinBucketChecksumArray(doc bsoncore.Document, key string) ([]BucketChecksum, error) {
	v, ok := lookup(doc, key)
	if !ok {
		return nil, nil
	}
	arr, err := subDocument(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	elems, err := arr.Elements()
	if err != nil {
		return nil, err
	}
	out := make([]BucketChecksum, 0, len(elems))
	for _, e := range elems {
		bc, err := parseBinBucketChecksum(e.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, bc)
	}
	return out, nil
}

func parseBinCheckpoint(v bsoncore.Value) (Checkpoint, error) {
	doc, err := subDocument(v)
	if err != nil {
		return Checkpoint{}, err
	}
	lastOpID, err := binOptionalInt64(doc, "last_op_id")
	if err != nil {
		return Checkpoint{}, err
	}
	writeCheckpoint, err := binOptionalInt64(doc, "write_checkpoint")
	if err != nil {
		return Checkpoint{}, err
	}
	buckets, err := parseBinBucketChecksumArray(doc, "buckets")
	if err != nil {
		return Checkpoint{}, err
	}
	var lastOp int64
	if lastOpID != nil {
		lastOp = *lastOpID
	}
	return Checkpoint{LastOpID: lastOp, WriteCheckpoint: writeCheckpoint, Buckets: buckets}, nil
}

func parseBinCheckpointDiff(v bsoncore.Value) (CheckpointDiff, error) {
	doc, err := subDocument(v)
	if err != nil {
		return CheckpointDiff{}, err
	}
	lastOpID, err := binOptionalInt64(doc, "last_op_id")
	if err != nil {
		return CheckpointDiff{}, err
	}
	writeCheckpoint, err := binOptionalInt64(doc, "write_checkpoint")
	if err != nil {
		return CheckpointDiff{}, err
	}
	updated, err := parseBinBucketChecksumArray(doc, "updated_buckets")
	if err != nil {
		return CheckpointDiff{}, err
	}
	var removed []string
	if v, ok := lookup(doc, "removed_buckets"); ok {
		arr, err := subDocument(v)
		if err != nil {
			return CheckpointDiff{}, err
		}
		elems, err := arr.Elements()
		if err != nil {
			return CheckpointDiff{}, err
		}
		for _, e := range elems {
			s, err := binValueAsString(e.Value())
			if err != nil {
				return CheckpointDiff{}, err
			}
			removed = append(removed, s)
		}
	}
	var lastOp int64
	if lastOpID != nil {
		lastOp = *lastOpID
	}
	return CheckpointDiff{
		LastOpID:        lastOp,
		UpdatedBuckets:  updated,
		RemovedBuckets:  removed,
		WriteCheckpoint: writeCheckpoint,
	}, nil
}

func parseBinCheckpointPartiallyComplete(v bsoncore.Value) (CheckpointPartiallyComplete, error) {
	doc, err := subDocument(v)
	if err != nil {
		return CheckpointPartiallyComplete{}, err
	}
	p, ok := lookup(doc, "priority")
	if !ok {
		return CheckpointPartiallyComplete{}, syncerr.Protocolf("partial_checkpoint_complete missing priority")
	}
	n, err := binValueAsInt32(p)
	if err != nil {
		return CheckpointPartiallyComplete{}, err
	}
	return CheckpointPartiallyComplete{Priority: priority.Priority(n)}, nil
}

func parseBinDataLine(v bsoncore.Value) (DataLine, error) {
	doc, err := subDocument(v)
	if err != nil {
		return DataLine{}, err
	}
	var bucket string
	if b, ok := lookup(doc, "bucket"); ok {
		bucket, err = binValueAsString(b)
		if err != nil {
			return DataLine{}, err
		}
	}
	entries, ok := lookup(doc, "data")
	if !ok {
		return DataLine{Bucket: bucket}, nil
	}
	arr, err := subDocument(entries)
	if err != nil {
		return DataLine{}, fmt.Errorf("data: %w", err)
	}
	elems, err := arr.Elements()
	if err != nil {
		return DataLine{}, err
	}
	out := make([]OplogEntry, 0, len(elems))
	for _, e := range elems {
		entry, err := parseBinOplogEntry(e.Value())
		if err != nil {
			return DataLine{}, fmt.Errorf("data[]: %w", err)
		}
		out = append(out, entry)
	}
	return DataLine{Bucket: bucket, Data: out}, nil
}

func parseBinOplogEntry(v bsoncore.Value) (OplogEntry, error) {
	doc, err := subDocument(v)
	if err != nil {
		return OplogEntry{}, err
	}
	entry := OplogEntry{}
	if cs, ok := lookup(doc, "checksum"); ok {
		entry.Checksum, err = binValueAsChecksum(cs)
		if err != nil {
			return OplogEntry{}, err
		}
	}
	opID, ok := lookup(doc, "op_id")
	if !ok {
		return OplogEntry{}, syncerr.Protocolf("oplog entry missing op_id")
	}
	entry.OpID, err = binValueAsInt64(opID)
	if err != nil {
		return OplogEntry{}, err
	}
	opVal, ok := lookup(doc, "op")
	if !ok {
		return OplogEntry{}, syncerr.Protocolf("oplog entry missing op")
	}
	opStr, err := binValueAsString(opVal)
	if err != nil {
		return OplogEntry{}, err
	}
	entry.Op, err = parseOpType(opStr)
	if err != nil {
		return OplogEntry{}, err
	}
	if entry.ObjectID, err = binOptionalString(doc, "object_id"); err != nil {
		return OplogEntry{}, err
	}
	if entry.ObjectType, err = binOptionalString(doc, "object_type"); err != nil {
		return OplogEntry{}, err
	}
	if entry.Subkey, err = binOptionalString(doc, "subkey"); err != nil {
		return OplogEntry{}, err
	}
	if d, ok := lookup(doc, "data"); ok && d.Type != 0x0A {
		s, err := binValueAsString(d)
		if err != nil {
			return OplogEntry{}, fmt.Errorf("data: %w", err)
		}
		entry.Data = &s
	}
	return entry, nil
}
