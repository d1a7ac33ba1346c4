package checksum

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappingArithmetic(t *testing.T) {
	var c Checksum = math.MaxUint32
	c = c.Add(1)
	assert.Equal(t, Checksum(0), c, "wrapping add should roll over to zero")

	c = Checksum(0).Sub(1)
	assert.Equal(t, Checksum(math.MaxUint32), c, "wrapping sub should roll under to max")
}

func TestUnmarshalJSONAcceptsThreeShapes(t *testing.T) {
	cases := []string{"-1", "4294967295", "-1.0"}
	var want Checksum = 0xFFFFFFFF

	for _, raw := range cases {
		var c Checksum
		require.NoError(t, json.Unmarshal([]byte(raw), &c), raw)
		assert.Equal(t, want, c, raw)
	}
}

func TestUnmarshalJSONRejectsFractional(t *testing.T) {
	var c Checksum
	err := json.Unmarshal([]byte("1.5"), &c)
	assert.Error(t, err)
}

func TestSupersedePreservesTotal(t *testing.T) {
	var b BucketSum
	b.ApplyPut(10)
	b.ApplyPut(20)
	before := b.Total()

	b.ApplySupersede(10)
	assert.Equal(t, before, b.Total(), "moving a hash from op to add must not change the total")
	assert.Equal(t, Checksum(20), b.Op)
	assert.Equal(t, Checksum(10), b.Add)
}

func TestClearResetsOpAndSetsAdd(t *testing.T) {
	b := BucketSum{Add: 5, Op: 99}
	b.ApplyClear(7)
	assert.Equal(t, Checksum(0), b.Op)
	assert.Equal(t, Checksum(7), b.Add)
}
