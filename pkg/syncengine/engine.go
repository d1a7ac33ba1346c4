package syncengine

import (
	"context"
	"time"

	"github.com/cuemby/syncbase/pkg/materialize"
	"github.com/cuemby/syncbase/pkg/oplog"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/cuemby/syncbase/pkg/syncline"
)

type stateKind int

const (
	stateBeforeCheckpoint stateKind = iota
	stateTracking
)

// trackedCheckpoint is the in-memory form of a Tracking(checkpoint) state:
// a checkpoint's bucket list kept as a map so CheckpointDiff updates are
// O(1) per changed bucket.
type trackedCheckpoint struct {
	lastOpID        int64
	writeCheckpoint *int64
	buckets         map[string]syncline.BucketChecksum
}

func (c trackedCheckpoint) toSyncline() syncline.Checkpoint {
	cp := syncline.Checkpoint{LastOpID: c.lastOpID, WriteCheckpoint: c.writeCheckpoint}
	for _, bc := range c.buckets {
		cp.Buckets = append(cp.Buckets, bc)
	}
	return cp
}

// Engine runs one sync iteration's state machine (spec.md §4.7). It is not
// safe for concurrent use: the host serializes event delivery.
type Engine struct {
	adapter storage.Adapter
	clock   func() time.Time

	kind       stateKind
	localNames []string
	tracking   trackedCheckpoint

	validatedButNotApplied *trackedCheckpoint

	subscriptions *syncline.ActiveSubscriptions

	status   Status
	lastHash uint64
	hashed   bool
}

// New creates an Engine in its initial BeforeCheckpoint state.
func New(adapter storage.Adapter) *Engine {
	return &Engine{
		adapter:       adapter,
		clock:         time.Now,
		kind:          stateBeforeCheckpoint,
		subscriptions: syncline.NewActiveSubscriptions(),
	}
}

// SubscriptionIDs returns the subscription ids currently attributed to
// bucket, as reported by the most recent checkpoint or checkpoint_diff line.
func (e *Engine) SubscriptionIDs(bucket string) []int64 {
	return e.subscriptions.IDsFor(bucket)
}

// Status returns the engine's current coalesced status snapshot.
func (e *Engine) Status() Status {
	return e.status
}

func (e *Engine) flush(extra ...Output) []Output {
	var out []Output
	h := e.status.hash()
	if !e.hashed || h != e.lastHash {
		snapshot := e.status
		out = append(out, Output{Kind: OutputUpdateSyncStatus, Status: &snapshot})
		e.lastHash = h
		e.hashed = true
	}
	return append(out, extra...)
}

// HandleInitialize implements the Initialize event (spec.md §4.7): read
// local bucket names, build the StreamingSyncRequest, and ask the host to
// establish the stream.
func (e *Engine) HandleInitialize(ctx context.Context) ([]Output, error) {
	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	names, err := e.adapter.AllBucketNames(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	clientID, err := storage.EnsureClientID(ctx, e.adapter, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit initialize", err)
	}

	e.kind = stateBeforeCheckpoint
	e.localNames = names
	e.validatedButNotApplied = nil
	e.status = e.status.startConnecting()

	req := &StreamingSyncRequest{
		Buckets:         names,
		ClientID:        clientID,
		Parameters:      map[string]any{},
		IncludeChecksum: true,
		RawData:         true,
		BinaryData:      true,
	}
	return e.flush(Output{Kind: OutputEstablishSyncStream, Request: req}), nil
}

// HandleTearDown implements the TearDown event: disconnect and stop.
func (e *Engine) HandleTearDown(ctx context.Context) []Output {
	e.status = e.status.disconnect()
	e.kind = stateBeforeCheckpoint
	e.localNames = nil
	e.validatedButNotApplied = nil
	return e.flush()
}

// HandleDidRefreshToken implements the DidRefreshToken event: the
// iteration always closes so the host can reconnect with the new token.
func (e *Engine) HandleDidRefreshToken(ctx context.Context) []Output {
	return []Output{{Kind: OutputCloseSyncStream}}
}

// HandleUploadFinished implements the UploadFinished event: retry
// sync_local against any checkpoint that was blocked on pending uploads.
func (e *Engine) HandleUploadFinished(ctx context.Context) ([]Output, error) {
	if e.validatedButNotApplied == nil {
		return nil, nil
	}
	cp := *e.validatedButNotApplied

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	result, err := materialize.SyncLocal(ctx, e.adapter, tx, cp.toSyncline(), nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit upload-finished sync_local", err)
	}

	if result.Outcome != materialize.ChangesApplied {
		return e.flush(logOutput(LevelInfo, "sync_local still blocked after upload finished")), nil
	}
	e.validatedButNotApplied = nil
	e.status = e.status.appliedCheckpoint(e.clock())
	return e.flush(Output{Kind: OutputFlushFileSystem}, Output{Kind: OutputDidCompleteSync}), nil
}

// HandleTextLine parses raw as a JSON sync line and runs it through the
// state machine.
func (e *Engine) HandleTextLine(ctx context.Context, raw []byte) ([]Output, error) {
	line, err := syncline.ParseTextLine(raw)
	if err != nil {
		return nil, err
	}
	return e.handleLine(ctx, line)
}

// HandleBinaryLine parses raw as a BSON-encoded sync line and runs it
// through the state machine.
func (e *Engine) HandleBinaryLine(ctx context.Context, raw []byte) ([]Output, error) {
	line, err := syncline.ParseBinaryLine(raw)
	if err != nil {
		return nil, err
	}
	return e.handleLine(ctx, line)
}

func (e *Engine) handleLine(ctx context.Context, line syncline.Line) ([]Output, error) {
	switch line.Kind {
	case syncline.KindCheckpoint:
		return e.handleCheckpoint(ctx, line.Checkpoint)
	case syncline.KindCheckpointDiff:
		return e.handleCheckpointDiff(ctx, line.CheckpointDiff)
	case syncline.KindData:
		return e.handleData(ctx, line.Data)
	case syncline.KindCheckpointComplete:
		return e.handleCheckpointComplete(ctx)
	case syncline.KindCheckpointPartiallyComplete:
		return e.handleCheckpointPartiallyComplete(ctx, line.CheckpointPartiallyComplete.Priority)
	case syncline.KindKeepAlive:
		return e.handleKeepAlive(line.KeepAlive), nil
	default:
		return e.flush(logOutput(LevelWarn, "received unknown sync line, ignoring")), nil
	}
}

// handleCheckpoint implements the Checkpoint transition: the prepare phase
// deletes locally-tracked buckets absent from the new checkpoint and reads
// each remaining bucket's progress counters; the apply phase installs the
// Tracking state and resets progress on defrag.
func (e *Engine) handleCheckpoint(ctx context.Context, cp syncline.Checkpoint) ([]Output, error) {
	names := make([]string, 0, len(cp.Buckets))
	for _, bc := range cp.Buckets {
		names = append(names, bc.Bucket)
	}

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.adapter.DeleteBucketsNotIn(ctx, tx, names); err != nil {
		tx.Rollback()
		return nil, err
	}

	needsReset := false
	for _, bc := range cp.Buckets {
		id, _, err := e.adapter.LookupBucket(ctx, tx, bc.Bucket)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		atLast, sinceLast, err := e.adapter.BucketProgress(ctx, tx, id)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		targetCount := int64(0)
		if bc.Count != nil {
			targetCount = *bc.Count
		}
		if atLast+sinceLast > targetCount {
			needsReset = true
		}
	}
	if needsReset {
		if err := e.adapter.ResetBucketProgress(ctx, tx); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit checkpoint", err)
	}

	buckets := make(map[string]syncline.BucketChecksum, len(cp.Buckets))
	var targetCount int64
	for _, bc := range cp.Buckets {
		buckets[bc.Bucket] = bc
		if bc.Count != nil {
			targetCount += *bc.Count
		}
		e.subscriptions.Observe(bc.Bucket, bc.Subscriptions)
	}
	e.kind = stateTracking
	e.tracking = trackedCheckpoint{lastOpID: cp.LastOpID, writeCheckpoint: cp.WriteCheckpoint, buckets: buckets}
	e.status = e.status.markConnected()
	e.status.Downloading = &DownloadProgress{TargetCount: targetCount}
	return e.flush(), nil
}

// handleCheckpointDiff implements the CheckpointDiff transition: it
// requires an existing Tracking state and applies an incremental update.
func (e *Engine) handleCheckpointDiff(ctx context.Context, diff syncline.CheckpointDiff) ([]Output, error) {
	if e.kind != stateTracking {
		return nil, syncerr.Protocolf("checkpoint_diff received before any checkpoint")
	}

	removed := make(map[string]struct{}, len(diff.RemovedBuckets))
	for _, name := range diff.RemovedBuckets {
		removed[name] = struct{}{}
	}

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range diff.RemovedBuckets {
		if err := e.adapter.DeleteBucketByName(ctx, tx, name); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit checkpoint_diff", err)
	}

	for _, bc := range diff.UpdatedBuckets {
		e.tracking.buckets[bc.Bucket] = bc
		e.subscriptions.Observe(bc.Bucket, bc.Subscriptions)
	}
	for name := range removed {
		delete(e.tracking.buckets, name)
		e.subscriptions.Forget(name)
	}
	e.tracking.lastOpID = diff.LastOpID
	if diff.WriteCheckpoint != nil {
		e.tracking.writeCheckpoint = diff.WriteCheckpoint
	}
	return e.flush(), nil
}

// handleData implements the Data transition: insert the batch's oplog
// entries and bump the per-bucket download progress counter.
func (e *Engine) handleData(ctx context.Context, data syncline.DataLine) ([]Output, error) {
	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := oplog.InsertBucketOperations(ctx, e.adapter, tx, data.Bucket, data.Data); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit data line", err)
	}

	if e.status.Downloading != nil {
		e.status.Downloading.SinceLast += int64(len(data.Data))
	}
	return e.flush(), nil
}

// handleCheckpointComplete implements the CheckpointComplete transition:
// run sync_local unscoped and react to its outcome.
func (e *Engine) handleCheckpointComplete(ctx context.Context) ([]Output, error) {
	if e.kind != stateTracking {
		return nil, syncerr.Protocolf("checkpoint_complete received before any checkpoint")
	}
	return e.runSyncLocal(ctx, nil)
}

// handleCheckpointPartiallyComplete implements the
// CheckpointPartiallyComplete transition: run sync_local scoped to pr.
func (e *Engine) handleCheckpointPartiallyComplete(ctx context.Context, pr priority.Priority) ([]Output, error) {
	if e.kind != stateTracking {
		return nil, syncerr.Protocolf("partial_checkpoint_complete received before any checkpoint")
	}
	return e.runSyncLocal(ctx, &pr)
}

func (e *Engine) runSyncLocal(ctx context.Context, scope *priority.Priority) ([]Output, error) {
	cp := e.tracking.toSyncline()

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	result, err := materialize.SyncLocal(ctx, e.adapter, tx, cp, scope)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncerr.Storagef("commit sync_local", err)
	}

	switch result.Outcome {
	case materialize.ChangesApplied:
		now := e.clock()
		if scope == nil {
			e.status = e.status.appliedCheckpoint(now)
			e.validatedButNotApplied = nil
			return e.flush(Output{Kind: OutputFlushFileSystem}, Output{Kind: OutputDidCompleteSync}), nil
		}
		e.status = e.status.partialComplete(*scope, now)
		return e.flush(), nil
	case materialize.PendingLocalChanges:
		if scope == nil {
			tracked := e.tracking
			e.validatedButNotApplied = &tracked
		}
		return e.flush(), nil
	case materialize.ChecksumFailure:
		return []Output{logOutput(LevelWarn, "checksum validation failed for buckets %v, closing sync stream", result.FailedBuckets), {Kind: OutputCloseSyncStream}}, nil
	default:
		return nil, syncerr.Protocolf("unknown sync_local outcome")
	}
}

// handleKeepAlive implements the KeepAlive transition.
func (e *Engine) handleKeepAlive(expiresIn syncline.TokenExpiresIn) []Output {
	if expiresIn.IsExpired() {
		return []Output{{Kind: OutputFetchCredentials, DidExpire: true}, {Kind: OutputCloseSyncStream}}
	}
	if expiresIn.ShouldPrefetch() {
		return e.flush(Output{Kind: OutputFetchCredentials, DidExpire: false})
	}
	return nil
}
