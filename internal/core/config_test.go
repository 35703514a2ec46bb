package core_test

import (
	"testing"
	"time"

	"LiveBoard/internal/core"
	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	core.ResetConfig()
	cfg := core.ReadConfig()
	require.Equal(t, uint16(8888), cfg.Relay.Port)
	require.Equal(t, "memory", cfg.Relay.Storage.Driver)
	require.Equal(t, 20.0, cfg.Board.Limits.MaxWidth)
	require.Equal(t, 10*time.Second, cfg.Presence.Timeout)
}

func TestReadConfigFile(t *testing.T) {
	t.Cleanup(core.ResetConfig)
	require.NoError(t, core.LoadConfigString(`
[core]
log_level = "debug"

[identity]
participant_id = "alice"

[relay]
port = 9000

[relay.storage]
driver = "sqlite"
path = "/tmp/board.db"

[board]
max_width = 12

[sync]
ack_timeout = "500ms"
snapshot_timeout = 750
`))
	cfg := core.ReadConfig()
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "alice", cfg.Identity.ParticipantID)
	require.Equal(t, uint16(9000), cfg.Relay.Port)
	require.Equal(t, "sqlite", cfg.Relay.Storage.Driver)
	require.Equal(t, "/tmp/board.db", cfg.Relay.Storage.Path)
	require.Equal(t, 12.0, cfg.Board.Limits.MaxWidth)
	require.Equal(t, 500*time.Millisecond, cfg.Sync.AckTimeout)
	require.Equal(t, 750*time.Millisecond, cfg.Sync.SnapshotTimeout)
	require.Equal(t, 5, cfg.Sync.MaxAttempts)
}
