package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaCommand(t *testing.T) {
	resetConfig(t)

	dir := t.TempDir()
	quotaPath := filepath.Join(dir, "rate_limit.json")
	today := time.Now().UTC().Format(quota.DateLayout)
	require.NoError(
		t,
		os.WriteFile(
			quotaPath,
			[]byte(fmt.Sprintf(`{"date":%q,"count":3}`, today)),
			0o644,
		),
	)

	t.Setenv("DB_DATABASE", filepath.Join(dir, "dragonbot.sqlite3"))
	t.Setenv("DB_QUOTA_BACKEND", "file")
	t.Setenv("DB_QUOTA_PATH", quotaPath)
	t.Setenv("DB_QUOTA_CEILING", "10")
	out := captureOutput(t)

	rootCmd.SetArgs([]string{"quota"})
	require.NoError(t, rootCmd.Execute())

	var usage quota.Usage
	require.NoError(t, json.Unmarshal(out.Bytes(), &usage))
	assert.Equal(t, quota.DefaultName, usage.Name)
	assert.Equal(t, today, usage.Date)
	assert.Equal(t, 3, usage.Count)
	assert.Equal(t, 10, usage.Ceiling)
	assert.Equal(t, 7, usage.Remaining)
}

func TestQuotaCommand_NoState(t *testing.T) {
	resetConfig(t)

	dir := t.TempDir()
	t.Setenv("DB_DATABASE", filepath.Join(dir, "dragonbot.sqlite3"))
	t.Setenv("DB_QUOTA_PATH", filepath.Join(dir, "rate_limit.json"))
	out := captureOutput(t)

	rootCmd.SetArgs([]string{"quota"})
	require.NoError(t, rootCmd.Execute())

	var usage quota.Usage
	require.NoError(t, json.Unmarshal(out.Bytes(), &usage))
	assert.Equal(t, 0, usage.Count)
	assert.Equal(t, quota.DefaultCeiling, usage.Ceiling)
	assert.Equal(t, quota.DefaultCeiling, usage.Remaining)
}
