package syncline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextLineKeepAlive(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"token_expires_in": 123}`))
	require.NoError(t, err)
	assert.Equal(t, KindKeepAlive, line.Kind)
	assert.Equal(t, TokenExpiresIn(123), line.KeepAlive)
	assert.False(t, line.KeepAlive.IsExpired())
}

func TestParseTextLineCheckpoint(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"checkpoint": {"last_op_id": "10", "buckets": [{"bucket": "a", "checksum": 10}]}}`))
	require.NoError(t, err)
	require.Equal(t, KindCheckpoint, line.Kind)
	assert.Equal(t, int64(10), line.Checkpoint.LastOpID)
	require.Len(t, line.Checkpoint.Buckets, 1)
	assert.Equal(t, "a", line.Checkpoint.Buckets[0].Bucket)
	assert.Nil(t, line.Checkpoint.Buckets[0].Priority)
}

func TestParseTextLineCheckpointWithPriority(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"checkpoint": {"last_op_id": "10", "buckets": [{"bucket": "a", "priority": 1, "checksum": 10}]}}`))
	require.NoError(t, err)
	require.Len(t, line.Checkpoint.Buckets, 1)
	require.NotNil(t, line.Checkpoint.Buckets[0].Priority)
	assert.EqualValues(t, 1, *line.Checkpoint.Buckets[0].Priority)
}

func TestParseTextLineCheckpointDiffEscapedBucketName(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"checkpoint_diff": {"last_op_id": "10", "updated_buckets": [], "removed_buckets": ["foo\""], "write_checkpoint": null}}`))
	require.NoError(t, err)
	require.Equal(t, KindCheckpointDiff, line.Kind)
	require.Len(t, line.CheckpointDiff.RemovedBuckets, 1)
	assert.Equal(t, `foo"`, line.CheckpointDiff.RemovedBuckets[0])
}

func TestParseTextLineCheckpointPartiallyComplete(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"partial_checkpoint_complete": {"last_op_id": "10", "priority": 1}}`))
	require.NoError(t, err)
	require.Equal(t, KindCheckpointPartiallyComplete, line.Kind)
	assert.EqualValues(t, 1, line.CheckpointPartiallyComplete.Priority)
}

func TestParseTextLineData(t *testing.T) {
	raw := `{"data": {"bucket": "bkt", "data": [{"checksum":10,"op_id":"1","object_id":"test","object_type":"users","op":"PUT","subkey":null,"data":"{\"name\":\"user 0\"}"}]}}`
	line, err := ParseTextLine([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, KindData, line.Kind)
	assert.Equal(t, "bkt", line.Data.Bucket)
	require.Len(t, line.Data.Data, 1)
	entry := line.Data.Data[0]
	assert.EqualValues(t, 1, entry.OpID)
	require.NotNil(t, entry.ObjectID)
	assert.Equal(t, "test", *entry.ObjectID)
	assert.Nil(t, entry.Subkey)
	require.NotNil(t, entry.Data)
	assert.Equal(t, `{"name":"user 0"}`, *entry.Data)
}

func TestParseTextLineUnknown(t *testing.T) {
	line, err := ParseTextLine([]byte(`{"foo": {}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, line.Kind)
}

func TestParseTextLineRejectsMultipleKeys(t *testing.T) {
	_, err := ParseTextLine([]byte(`{"foo": {}, "bar": {}}`))
	assert.Error(t, err)
}

func TestTokenExpiresInShouldPrefetch(t *testing.T) {
	assert.True(t, TokenExpiresIn(30).ShouldPrefetch())
	assert.False(t, TokenExpiresIn(31).ShouldPrefetch())
	assert.False(t, TokenExpiresIn(0).ShouldPrefetch())
}
