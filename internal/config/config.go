package config

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Development bool   `mapstructure:"development"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Schema   string `mapstructure:"schema"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GameConfig struct {
	BettingWindow time.Duration `mapstructure:"betting_window"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MinStake      float64       `mapstructure:"min_stake"`
	MaxStake      float64       `mapstructure:"max_stake"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.Schema)
}

// Load reads configs/config.yaml if present and overlays environment
// variables. A missing config file is fine; defaults cover local dev.
func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.development", false)

	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "crashdb")
	viper.SetDefault("postgres.schema", "public")

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("game.betting_window", 5*time.Second)
	viper.SetDefault("game.cooldown", 3*time.Second)
	viper.SetDefault("game.tick_interval", 100*time.Millisecond)
	viper.SetDefault("game.min_stake", 1.0)
	viper.SetDefault("game.max_stake", 10000.0)
}
