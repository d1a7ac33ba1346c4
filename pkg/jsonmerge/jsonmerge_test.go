package jsonmerge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeNoArgsReturnsEmptyObject(t *testing.T) {
	out, err := Merge(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", out)
}

func TestMergeJoinsObjects(t *testing.T) {
	out, err := Merge([]string{`{"a":1}`, `{"b":2}`})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":2}`, out)
}

func TestMergeSingleArgument(t *testing.T) {
	out, err := Merge([]string{`{"a":1}`})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, out)
}

func TestMergeRejectsNonObjectArgument(t *testing.T) {
	_, err := Merge([]string{`{"a":1}`, `[1,2]`})
	require.Error(t, err)
}

func TestMergeRejectsEmptyArgument(t *testing.T) {
	_, err := Merge([]string{""})
	require.Error(t, err)
}
