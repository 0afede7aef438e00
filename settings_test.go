package storcert

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	assert := assert.New(t)
	s := DefaultSettings()

	assert.Equal(18000*time.Second, s.ControlPathLimit)
	assert.Equal(15*time.Second, s.SampleTime)
	assert.Equal("failover", s.MultipathDefaults["path_grouping_policy"])
	assert.Len(s.MultipathDefaults, 13)

	// each call hands out its own map.
	s.MultipathDefaults["failback"] = "immediate"
	assert.Equal("manual", DefaultSettings().MultipathDefaults["failback"])
}

func TestParseSettings(t *testing.T) {
	content := []byte(`
diskdatatest: /usr/local/bin/diskdatatest
sample_time: 30s
multipath_defaults:
  failback: immediate
`)

	s, err := ParseSettings(content)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/diskdatatest", s.DiskDataTest)
	assert.Equal(t, 30*time.Second, s.SampleTime)
	assert.Equal(t, "/usr/sbin/multipathd", s.Multipathd)
	assert.Equal(t, "immediate", s.MultipathDefaults["failback"])
	assert.Equal(t, "readsector0", s.MultipathDefaults["path_checker"])
}

func TestParseSettingsBad(t *testing.T) {
	_, err := ParseSettings([]byte("sample_time: [1, 2]"))
	assert.Error(t, err)

	_, err = ParseSettings([]byte("control_path_limit: 0s"))
	assert.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	dir := t.TempDir()
	fpath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(fpath, []byte("path_wait: 1m\n"), 0600))

	s, err = LoadSettings(fpath)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.PathWait)

	_, err = LoadSettings(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
