// Package config holds the CLI and relay configuration. Values come from
// defaults, an optional YAML file and MIRROR_* environment variables, in
// increasing precedence; command-line flags are applied on top by the
// caller.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role represents the user's chosen role.
type Role string

const (
	RoleReceiver Role = "receiver" // shows a code and waits for a share
	RoleSender   Role = "sender"   // enters a code and shares its display
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleReceiver || r == RoleSender }

// Capture mirrors media.Constraints.
type Capture struct {
	Width     int  `mapstructure:"width"`
	Height    int  `mapstructure:"height"`
	FrameRate int  `mapstructure:"frame_rate"`
	Audio     bool `mapstructure:"audio"`
}

// Config stores the endpoint parameters.
type Config struct {
	Role  Role   `mapstructure:"role"`
	Code  string `mapstructure:"code"`  // Sender: session code to join
	Store string `mapstructure:"store"` // ws(s)://, redis:// or mongodb:// URL
	Token string `mapstructure:"token"` // relay token, if the relay wants one

	Media   string `mapstructure:"media"`    // Sender: IVF file to share
	Out     string `mapstructure:"out"`      // Receiver: IVF file to record into
	JoinURL string `mapstructure:"join_url"` // Receiver: URL put in the QR payload

	ICEServers           []string `mapstructure:"ice_servers"`
	DeferConnectedStatus bool     `mapstructure:"defer_connected_status"`
	Capture              Capture  `mapstructure:"capture"`

	Debug bool `mapstructure:"debug"`
}

// RelayConfig stores the relay server parameters.
type RelayConfig struct {
	Listen  string `mapstructure:"listen"`
	Token   string `mapstructure:"token"`
	Backend string `mapstructure:"backend"` // memory, redis or mongo

	RedisURL string        `mapstructure:"redis_url"`
	RedisTTL time.Duration `mapstructure:"redis_ttl"`

	MongoURI string `mapstructure:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db"`

	Debug bool `mapstructure:"debug"`
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the endpoint configuration. path may be empty.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("role", "")
	v.SetDefault("code", "")
	v.SetDefault("store", "ws://127.0.0.1:8080/ws")
	v.SetDefault("token", "")
	v.SetDefault("media", "")
	v.SetDefault("out", "")
	v.SetDefault("join_url", "")
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("defer_connected_status", false)
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.frame_rate", 30)
	v.SetDefault("capture.audio", true)
	v.SetDefault("debug", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadRelay reads the relay configuration. path may be empty.
func LoadRelay(path string) (*RelayConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("listen", ":8080")
	v.SetDefault("token", "")
	v.SetDefault("backend", "memory")
	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis_ttl", "24h")
	v.SetDefault("mongo_uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo_db", "mirror")
	v.SetDefault("debug", false)

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.Backend {
	case "memory", "redis", "mongo":
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory, redis or mongo)", cfg.Backend)
	}
	return &cfg, nil
}
