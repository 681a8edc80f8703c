package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Bot      BotConfig      `mapstructure:"bot"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKeyHash is the bcrypt hash of the admin API key. When empty the
	// admin REST endpoints are disabled.
	AdminKeyHash string `mapstructure:"admin_key_hash"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
	// CommandPrefix marks chat commands, e.g. "!" for !quest.
	CommandPrefix string `mapstructure:"command_prefix"`
	// EventBuffer is the size of the ordered inbound event queue.
	EventBuffer int `mapstructure:"event_buffer"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
}

type BotConfig struct {
	// SaveInterval is how often dirty guild documents are flushed to the DB.
	SaveInterval time.Duration `mapstructure:"save_interval"`
	// RoleShuffleInterval is how often configured shuffle roles are reordered.
	RoleShuffleInterval time.Duration `mapstructure:"role_shuffle_interval"`
	// RoleMutationRPS limits outbound role-mutation calls to the platform.
	RoleMutationRPS   float64 `mapstructure:"role_mutation_rps"`
	RoleMutationBurst int     `mapstructure:"role_mutation_burst"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.debug", false)
	v.SetDefault("discord.command_prefix", "!")
	v.SetDefault("discord.event_buffer", 256)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/factionbot.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("bot.save_interval", "5m")
	v.SetDefault("bot.role_shuffle_interval", "24h")
	v.SetDefault("bot.role_mutation_rps", 2)
	v.SetDefault("bot.role_mutation_burst", 5)
	v.SetDefault("security.jwt_ttl", "72h")
	v.SetDefault("security.rate_limit_rps", 20)
	v.SetDefault("security.rate_limit_burst", 40)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
