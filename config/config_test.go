package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/assistant")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 65432, c.Port)
	assert.Equal(t, filepath.Join("/tmp/assistant", "sessions"), c.SessionsDir)
	assert.Equal(t, filepath.Join("/tmp/assistant", "index.sqlite"), c.DatabasePath)
	assert.Equal(t, 5*time.Second, c.NotifySendTimeout)
	assert.True(t, c.CancelOnRemove)
	assert.False(t, c.ClearControllerOnRemove)
	assert.True(t, c.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("SESSIONS_DIR", "/var/lib/sessions")
	t.Setenv("NOTIFY_SEND_TIMEOUT", "250ms")
	t.Setenv("CLEAR_CONTROLLER_ON_REMOVE", "true")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.False(t, c.IsDevelopment())
	assert.Equal(t, "/var/lib/sessions", c.SessionsDir)
	assert.Equal(t, 250*time.Millisecond, c.NotifySendTimeout)
	assert.True(t, c.ClearControllerOnRemove)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestDefault_FillsPaths(t *testing.T) {
	c := Default()
	assert.Equal(t, filepath.Join("./data", "sessions"), c.SessionsDir)
	assert.Equal(t, 64, c.NotifyQueueSize)
}
