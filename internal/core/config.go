package core

import (
	"fmt"
	"math"
	"time"

	"LiveBoard/internal/state"

	"github.com/pelletier/go-toml"
)

var config *toml.Tree

// LoadConfig loads the configuration from the specified TOML file.
func LoadConfig(file string) error {
	tree, err := toml.LoadFile(file)
	if err != nil {
		return fmt.Errorf("load config %s: %w", file, err)
	}
	config = tree
	return nil
}

// LoadConfigString loads the configuration from TOML text.
func LoadConfigString(content string) error {
	tree, err := toml.Load(content)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	config = tree
	return nil
}

// ResetConfig drops any loaded configuration so that defaults apply.
func ResetConfig() {
	config = nil
}

func get(key string) interface{} {
	if config == nil {
		return nil
	}
	return config.Get(key)
}

// GetConfigIntDefault returns the integer configuration value at the specified key or the specified default value if it does not exist.
func GetConfigIntDefault(key string, def int) int {
	val, ok := get(key).(int64)
	if ok && val >= math.MinInt32 && val <= math.MaxInt32 {
		return int(val)
	}
	return def
}

// GetConfigUint16Default returns the integer configuration value at the specified key or the specified default value if it does not exist.
func GetConfigUint16Default(key string, def uint16) uint16 {
	val, ok := get(key).(int64)
	if ok && val > 0 && val <= math.MaxUint16 {
		return uint16(val)
	}
	return def
}

// GetConfigFloatDefault accepts both float and integer values.
func GetConfigFloatDefault(key string, def float64) float64 {
	switch val := get(key).(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	}
	return def
}

// GetConfigStringDefault returns the string configuration value at the specified key or the specified default value if it does not exist.
func GetConfigStringDefault(key string, def string) string {
	if val, ok := get(key).(string); ok {
		return val
	}
	return def
}

func GetConfigBoolDefault(key string, def bool) bool {
	if val, ok := get(key).(bool); ok {
		return val
	}
	return def
}

// GetConfigDurationDefault reads either a duration string ("250ms") or an
// integer number of milliseconds.
func GetConfigDurationDefault(key string, def time.Duration) time.Duration {
	switch val := get(key).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	case int64:
		if val > 0 {
			return time.Duration(val) * time.Millisecond
		}
	}
	return def
}

type IdentityConfig struct {
	ParticipantID string
	DisplayName   string
}

type StorageConfig struct {
	Driver string // memory, sqlite or bolt
	Path   string
}

type RelayConfig struct {
	Bind            string
	Port            uint16
	Advertise       bool
	PresenceTimeout time.Duration
	Storage         StorageConfig
}

type BoardConfig struct {
	Width  int
	Height int
	Limits state.Limits
}

type CaptureConfig struct {
	MinInterval time.Duration
	MinDistance float64
}

type SyncConfig struct {
	AckTimeout      time.Duration
	SnapshotTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

type PresenceConfig struct {
	Throttle  time.Duration
	Heartbeat time.Duration
	Timeout   time.Duration
}

// Config is the typed view of the configuration file.
type Config struct {
	LogLevel string
	Identity IdentityConfig
	Relay    RelayConfig
	Board    BoardConfig
	Capture  CaptureConfig
	Sync     SyncConfig
	Presence PresenceConfig
}

// ReadConfig builds a Config from the loaded file, falling back to defaults
// for every missing key.
func ReadConfig() Config {
	limits := state.DefaultLimits()
	return Config{
		LogLevel: GetConfigStringDefault("core.log_level", "info"),
		Identity: IdentityConfig{
			ParticipantID: GetConfigStringDefault("identity.participant_id", ""),
			DisplayName:   GetConfigStringDefault("identity.display_name", ""),
		},
		Relay: RelayConfig{
			Bind:            GetConfigStringDefault("relay.bind", ""),
			Port:            GetConfigUint16Default("relay.port", 8888),
			Advertise:       GetConfigBoolDefault("relay.advertise", true),
			PresenceTimeout: GetConfigDurationDefault("presence.timeout", 10*time.Second),
			Storage: StorageConfig{
				Driver: GetConfigStringDefault("relay.storage.driver", "memory"),
				Path:   GetConfigStringDefault("relay.storage.path", "liveboard.db"),
			},
		},
		Board: BoardConfig{
			Width:  GetConfigIntDefault("board.width", 1600),
			Height: GetConfigIntDefault("board.height", 1000),
			Limits: state.Limits{
				MaxWidth:  GetConfigFloatDefault("board.max_width", limits.MaxWidth),
				MaxPoints: GetConfigIntDefault("board.max_points", limits.MaxPoints),
				MaxText:   GetConfigIntDefault("board.max_text", limits.MaxText),
			},
		},
		Capture: CaptureConfig{
			MinInterval: GetConfigDurationDefault("capture.min_interval", 8*time.Millisecond),
			MinDistance: GetConfigFloatDefault("capture.min_distance", 1.5),
		},
		Sync: SyncConfig{
			AckTimeout:      GetConfigDurationDefault("sync.ack_timeout", 2*time.Second),
			SnapshotTimeout: GetConfigDurationDefault("sync.snapshot_timeout", 5*time.Second),
			MaxAttempts:     GetConfigIntDefault("sync.max_attempts", 5),
			InitialBackoff:  GetConfigDurationDefault("sync.initial_backoff", 250*time.Millisecond),
			MaxBackoff:      GetConfigDurationDefault("sync.max_backoff", 8*time.Second),
		},
		Presence: PresenceConfig{
			Throttle:  GetConfigDurationDefault("presence.throttle", 50*time.Millisecond),
			Heartbeat: GetConfigDurationDefault("presence.heartbeat_interval", 3*time.Second),
			Timeout:   GetConfigDurationDefault("presence.timeout", 10*time.Second),
		},
	}
}
