package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffAddsNewField(t *testing.T) {
	got, err := Diff(`{"a":1}`, `{"a":1,"b":2}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, got)
}

func TestDiffRemovedFieldBecomesNull(t *testing.T) {
	got, err := Diff(`{"a":1}`, `{}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null}`, got)
}

func TestDiffIgnoreRemovedOmitsNulls(t *testing.T) {
	got, err := Diff(`{"a":1}`, `{}`, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, got)
}

func TestDiffTreatsEquivalentFloatsAsEqual(t *testing.T) {
	got, err := Diff(`{"a":1.00}`, `{"a":1.0}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, got)
}

func TestDiffChangedValue(t *testing.T) {
	got, err := Diff(`{"b":1}`, `{"a":null,"b":2}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, got)
}

func TestDiffEmptyOldObjectReturnsWholeNew(t *testing.T) {
	got, err := Diff(`{}`, `{"a":1.0}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.0}`, got)
}

func TestDiffStripsNullsBeforeComparing(t *testing.T) {
	got, err := Diff(`{"a":null}`, `{}`, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, got)
}

func TestDiffRejectsNonObjects(t *testing.T) {
	_, err := Diff(`[1,2]`, `{}`, false)
	assert.Error(t, err)
}
