package syncengine

import (
	"context"
	"testing"

	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncline"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	a, err := storage.OpenSQLiteAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func ptr(s string) *string { return &s }

func TestHandleInitializeEstablishesStream(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)

	outs, err := e.HandleInitialize(context.Background())
	require.NoError(t, err)

	var establish *Output
	for i := range outs {
		if outs[i].Kind == OutputEstablishSyncStream {
			establish = &outs[i]
		}
	}
	require.NotNil(t, establish)
	require.True(t, establish.Request.IncludeChecksum)
	require.True(t, establish.Request.RawData)
	require.True(t, establish.Request.BinaryData)
	require.Empty(t, establish.Request.Buckets)
	require.True(t, e.Status().Connecting)
}

// TestCheckpointDataCompleteAppliesChanges covers spec.md §8's happy path:
// a Checkpoint announces one bucket, a Data line delivers its only
// operation, and CheckpointComplete materializes it and signals done.
func TestCheckpointDataCompleteAppliesChanges(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)
	ctx := context.Background()

	_, err := e.HandleInitialize(ctx)
	require.NoError(t, err)

	_, err = e.handleLine(ctx, syncline.Line{
		Kind: syncline.KindCheckpoint,
		Checkpoint: syncline.Checkpoint{
			LastOpID: 1,
			Buckets:  []syncline.BucketChecksum{{Bucket: "bucket1", Checksum: 10}},
		},
	})
	require.NoError(t, err)

	outs, err := e.handleLine(ctx, syncline.Line{
		Kind: syncline.KindData,
		Data: syncline.DataLine{
			Bucket: "bucket1",
			Data: []syncline.OplogEntry{
				{OpID: 1, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 10, Data: ptr(`{"a":1}`)},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, e.Status().Downloading)
	require.EqualValues(t, 1, e.Status().Downloading.SinceLast)

	outs, err = e.handleLine(ctx, syncline.Line{Kind: syncline.KindCheckpointComplete})
	require.NoError(t, err)

	var sawFlush, sawDone bool
	for _, o := range outs {
		switch o.Kind {
		case OutputFlushFileSystem:
			sawFlush = true
		case OutputDidCompleteSync:
			sawDone = true
		}
	}
	require.True(t, sawFlush)
	require.True(t, sawDone)
	require.True(t, e.Status().Connected)
	require.Nil(t, e.Status().Downloading)
	require.Len(t, e.Status().PriorityStatus, 1)
	require.Equal(t, priority.Sentinel, e.Status().PriorityStatus[0].Priority)
}

func TestCheckpointCompleteBeforeAnyCheckpointIsProtocolError(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)

	_, err := e.handleLine(context.Background(), syncline.Line{Kind: syncline.KindCheckpointComplete})
	require.Error(t, err)
}

func TestHandleKeepAliveExpiredRequestsCredentialsAndCloses(t *testing.T) {
	e := New(newTestAdapter(t))

	outs := e.handleKeepAlive(syncline.TokenExpiresIn(0))
	require.Len(t, outs, 2)
	require.Equal(t, OutputFetchCredentials, outs[0].Kind)
	require.True(t, outs[0].DidExpire)
	require.Equal(t, OutputCloseSyncStream, outs[1].Kind)
}

func TestHandleKeepAlivePrefetchesNearExpiry(t *testing.T) {
	e := New(newTestAdapter(t))

	outs := e.handleKeepAlive(syncline.TokenExpiresIn(10))
	var found bool
	for _, o := range outs {
		if o.Kind == OutputFetchCredentials {
			found = true
			require.False(t, o.DidExpire)
		}
	}
	require.True(t, found)
}

func TestHandleKeepAliveIgnoredWhenFarFromExpiry(t *testing.T) {
	e := New(newTestAdapter(t))

	outs := e.handleKeepAlive(syncline.TokenExpiresIn(3600))
	require.Nil(t, outs)
}

// TestCheckpointCompleteChecksumFailureClosesStream covers the checksum
// mismatch branch: a checkpoint announcing a checksum the stored oplog
// entries don't produce must close the stream rather than apply anything.
func TestCheckpointCompleteChecksumFailureClosesStream(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)
	ctx := context.Background()

	_, err := e.HandleInitialize(ctx)
	require.NoError(t, err)

	_, err = e.handleLine(ctx, syncline.Line{
		Kind: syncline.KindCheckpoint,
		Checkpoint: syncline.Checkpoint{
			LastOpID: 1,
			Buckets:  []syncline.BucketChecksum{{Bucket: "bucket1", Checksum: 999}},
		},
	})
	require.NoError(t, err)

	_, err = e.handleLine(ctx, syncline.Line{
		Kind: syncline.KindData,
		Data: syncline.DataLine{
			Bucket: "bucket1",
			Data: []syncline.OplogEntry{
				{OpID: 1, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 10, Data: ptr(`{"a":1}`)},
			},
		},
	})
	require.NoError(t, err)

	outs, err := e.handleLine(ctx, syncline.Line{Kind: syncline.KindCheckpointComplete})
	require.NoError(t, err)

	var sawClose bool
	for _, o := range outs {
		if o.Kind == OutputCloseSyncStream {
			sawClose = true
		}
	}
	require.True(t, sawClose)
}

func TestHandleTextLineParsesKeepAlive(t *testing.T) {
	e := New(newTestAdapter(t))

	outs, err := e.HandleTextLine(context.Background(), []byte(`{"token_expires_in": 0}`))
	require.NoError(t, err)
	require.Len(t, outs, 2)
	require.Equal(t, OutputFetchCredentials, outs[0].Kind)
}

func TestHandleTearDownDisconnects(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)
	ctx := context.Background()

	_, err := e.HandleInitialize(ctx)
	require.NoError(t, err)

	outs := e.HandleTearDown(ctx)
	require.False(t, e.Status().Connected)
	require.False(t, e.Status().Connecting)
	require.NotEmpty(t, outs)
}

func TestDiagnosticsReflectsTrackingState(t *testing.T) {
	a := newTestAdapter(t)
	e := New(a)
	ctx := context.Background()

	_, err := e.HandleInitialize(ctx)
	require.NoError(t, err)
	require.False(t, e.Diagnostics().Tracking)

	_, err = e.handleLine(ctx, syncline.Line{
		Kind: syncline.KindCheckpoint,
		Checkpoint: syncline.Checkpoint{
			LastOpID: 5,
			Buckets:  []syncline.BucketChecksum{{Bucket: "bucket1", Checksum: 1}},
		},
	})
	require.NoError(t, err)

	d := e.Diagnostics()
	require.True(t, d.Tracking)
	require.Equal(t, 1, d.BucketCount)
	require.EqualValues(t, 5, d.LastOpID)
}
