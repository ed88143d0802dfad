package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Game   GameConfig   `mapstructure:"game"`
	Client ClientConfig `mapstructure:"client"`
	MQ     MQConfig     `mapstructure:"mq"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	UDPPort  int    `mapstructure:"udp_port"`
	GrpcPort int    `mapstructure:"grpc_port"`
	TickRate int    `mapstructure:"tick_rate"`
	RoomID   string `mapstructure:"room_id"`
	MaxPeers int    `mapstructure:"max_peers"`
}

// TickDuration is the fixed simulation step.
func (s ServerConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

type GameConfig struct {
	MoveRate           float64 `mapstructure:"move_rate"`
	JumpForce          float64 `mapstructure:"jump_force"`
	Gravity            float64 `mapstructure:"gravity"`
	HistoryTicks       int     `mapstructure:"history_ticks"`
	LeadTicks          int     `mapstructure:"lead_ticks"`
	AcceptableLagTicks int     `mapstructure:"acceptable_lag_ticks"`
	SpringJoints       int     `mapstructure:"spring_joints"`
	SpringStrength     float64 `mapstructure:"spring_strength"`
	DamperStrength     float64 `mapstructure:"damper_strength"`
	PersistEveryTicks  int     `mapstructure:"persist_every_ticks"`
}

type ClientConfig struct {
	Addresses      []string      `mapstructure:"addresses"`
	Transport      string        `mapstructure:"transport"`
	Username       string        `mapstructure:"username"`
	Token          string        `mapstructure:"token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Duration       time.Duration `mapstructure:"duration"`
}

type MQConfig struct {
	Url       string `mapstructure:"url"`
	QueueName string `mapstructure:"queue_name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// every key needs a default so AutomaticEnv can override it on Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.udp_port", 7777)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.tick_rate", 64)
	v.SetDefault("server.max_peers", 16)
	v.SetDefault("server.room_id", "")

	v.SetDefault("game.move_rate", 15.0)
	v.SetDefault("game.jump_force", 15.0)
	v.SetDefault("game.gravity", -9.81)
	v.SetDefault("game.history_ticks", 128)
	v.SetDefault("game.lead_ticks", 3)
	v.SetDefault("game.acceptable_lag_ticks", 2)
	v.SetDefault("game.spring_joints", 2)
	v.SetDefault("game.spring_strength", 1.0)
	v.SetDefault("game.damper_strength", 1.0)
	v.SetDefault("game.persist_every_ticks", 64)

	v.SetDefault("client.addresses", []string{"127.0.0.1"})
	v.SetDefault("client.username", "Player")
	v.SetDefault("client.transport", "")
	v.SetDefault("client.token", "")
	v.SetDefault("client.connect_timeout", 5*time.Second)
	v.SetDefault("client.duration", time.Duration(0))

	v.SetDefault("mq.url", "")
	v.SetDefault("mq.queue_name", "netsim_session_events")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.enabled", false)
}

// Load reads the yaml file at path (or ./config.yaml when path is empty and
// the file exists) and applies NETSIM_* environment overrides, e.g.
// NETSIM_SERVER_TICK_RATE=30.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("netsim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the tick loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_rate must be positive, got %d", c.Server.TickRate))
	}
	if c.Game.LeadTicks < 0 || c.Game.AcceptableLagTicks < 0 {
		errs = append(errs, errors.New("game.lead_ticks and game.acceptable_lag_ticks must not be negative"))
	}
	if need := 2 * (c.Game.LeadTicks + c.Game.AcceptableLagTicks); c.Game.HistoryTicks < need {
		errs = append(errs, fmt.Errorf("game.history_ticks must cover the round trip: need at least %d, got %d", need, c.Game.HistoryTicks))
	}
	if c.Game.SpringJoints < 0 {
		errs = append(errs, errors.New("game.spring_joints must not be negative"))
	}
	return errors.Join(errs...)
}
