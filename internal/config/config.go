// Package config loads server configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Reconnect   ReconnectConfig   `mapstructure:"reconnect"`
	Rooms       RoomsConfig       `mapstructure:"rooms"`
	GameTypes   []GameTypeConfig  `mapstructure:"game_types"`
}

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection pool settings. Persistence is
// optional: with Enabled false the server keeps match results in memory only.
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MatchmakingConfig tunes the pairing scheduler.
type MatchmakingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MinWait  time.Duration `mapstructure:"min_wait"`
}

// ReconnectConfig sets the window a dropped player has to come back.
type ReconnectConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RoomsConfig tunes room lifecycle housekeeping.
type RoomsConfig struct {
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	Retention       time.Duration `mapstructure:"retention"`
}

// GameTypeConfig describes one offered game type.
type GameTypeConfig struct {
	ID                  string        `mapstructure:"id"`
	Variant             string        `mapstructure:"variant"`
	MinPlayers          int           `mapstructure:"min_players"`
	MaxPlayers          int           `mapstructure:"max_players"`
	TurnTime            time.Duration `mapstructure:"turn_time"`
	StartCountdown      time.Duration `mapstructure:"start_countdown"`
	MoveGrace           time.Duration `mapstructure:"move_grace"`
	Lives               int           `mapstructure:"lives"`
	BonusSix            bool          `mapstructure:"bonus_six"`
	MaxConsecutiveSixes int           `mapstructure:"max_consecutive_sixes"`
	QuickDuration       time.Duration `mapstructure:"quick_duration"`
	QuickTargetScore    int           `mapstructure:"quick_target_score"`
	EntryFee            int64         `mapstructure:"entry_fee"`
	PrizeTable          []int64       `mapstructure:"prize_table"`
}

// Load reads configuration from path, falling back to defaults when the
// file is absent. Environment variables prefixed with LUDO_ override file
// values (LUDO_SERVER_ADDRESS, LUDO_DATABASE_URL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LUDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("matchmaking.interval", 2*time.Second)
	v.SetDefault("matchmaking.min_wait", 10*time.Second)

	v.SetDefault("reconnect.window", 60*time.Second)
	v.SetDefault("reconnect.sweep_interval", 5*time.Second)

	v.SetDefault("rooms.janitor_interval", 30*time.Second)
	v.SetDefault("rooms.retention", 10*time.Minute)
}

func (c *Config) validate() error {
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url required when database.enabled is true")
	}
	seen := make(map[string]bool, len(c.GameTypes))
	for _, gt := range c.GameTypes {
		if gt.ID == "" {
			return fmt.Errorf("game type with empty id")
		}
		if seen[gt.ID] {
			return fmt.Errorf("duplicate game type id %q", gt.ID)
		}
		seen[gt.ID] = true
		if gt.MinPlayers < 2 || gt.MaxPlayers > 4 || gt.MinPlayers > gt.MaxPlayers {
			return fmt.Errorf("game type %q: players must be 2..4 with min <= max", gt.ID)
		}
		switch gt.Variant {
		case "CLASSIC", "QUICK":
		default:
			return fmt.Errorf("game type %q: unknown variant %q", gt.ID, gt.Variant)
		}
		if gt.Variant == "QUICK" && gt.QuickDuration <= 0 {
			return fmt.Errorf("game type %q: quick variant requires quick_duration", gt.ID)
		}
	}
	return nil
}
