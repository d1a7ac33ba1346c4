package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFillsTuningKnobs(t *testing.T) {
	c := Default("/tmp/whatever")
	require.Equal(t, "info", c.LogLevel)
	require.EqualValues(t, 30, c.KeepAlivePrefetchSeconds)
	require.Equal(t, 64, c.StatementCacheSize)
}

func TestValidateCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	c := Default(dir)
	require.NoError(t, c.Validate())
	require.DirExists(t, dir)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	c := Default("")
	require.Error(t, c.Validate())
}

func TestValidateRejectsNegativeStatementCacheSize(t *testing.T) {
	c := Default(t.TempDir())
	c.StatementCacheSize = -1
	require.Error(t, c.Validate())
}

func TestLogConfigTranslatesFields(t *testing.T) {
	c := Default(t.TempDir())
	c.LogLevel = "debug"
	c.LogJSON = true
	lc := c.LogConfig()
	require.Equal(t, "debug", string(lc.Level))
	require.True(t, lc.JSONOutput)
}
