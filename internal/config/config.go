package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSocketCAN = "socketcan"
	DriverSimulator = "simulator"
)

type Config struct {
	Bus       BusConfig       `mapstructure:"bus"`
	Motion    MotionConfig    `mapstructure:"motion"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type BusConfig struct {
	Driver     string        `mapstructure:"driver"`
	Interface  string        `mapstructure:"interface"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	FD         bool          `mapstructure:"fd"`
}

type MotionConfig struct {
	InterruptsPerSec        float64       `mapstructure:"interrupts_per_sec"`
	BrushedInterruptsPerSec float64       `mapstructure:"brushed_interrupts_per_sec"`
	GroupTimeout            time.Duration `mapstructure:"group_timeout"`
	GroupTimeoutSlack       time.Duration `mapstructure:"group_timeout_slack"`
	IgnoreStalls            bool          `mapstructure:"ignore_stalls"`
}

type SimulatorConfig struct {
	TimeScale float64  `mapstructure:"time_scale"`
	Nodes     []string `mapstructure:"nodes"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Load reads the YAML file at path. An empty path uses defaults and
// MGR_ environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.driver", DriverSimulator)
	v.SetDefault("bus.interface", "can0")
	v.SetDefault("bus.ack_timeout", "1s")
	v.SetDefault("bus.fd", true)

	v.SetDefault("motion.interrupts_per_sec", 100000)
	v.SetDefault("motion.brushed_interrupts_per_sec", 32000)
	v.SetDefault("motion.group_timeout", "0s")
	v.SetDefault("motion.group_timeout_slack", "2s")
	v.SetDefault("motion.ignore_stalls", false)

	v.SetDefault("simulator.time_scale", 0.0)
	v.SetDefault("simulator.nodes", []string{
		"gantry_x", "gantry_y", "head", "head_l", "head_r",
		"pipette_left", "pipette_right", "gripper", "gripper_z", "gripper_g",
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "movegroups")
	v.SetDefault("database.user", "movegroups")
	v.SetDefault("database.max_connections", 4)
}

func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case DriverSocketCAN, DriverSimulator:
	default:
		return fmt.Errorf("unknown bus.driver %q (want %s or %s)", c.Bus.Driver, DriverSocketCAN, DriverSimulator)
	}
	if c.Bus.AckTimeout <= 0 {
		return fmt.Errorf("bus.ack_timeout must be positive")
	}
	if c.Motion.InterruptsPerSec <= 0 || c.Motion.BrushedInterruptsPerSec <= 0 {
		return fmt.Errorf("motion interrupt rates must be positive")
	}
	if c.Motion.GroupTimeout < 0 || c.Motion.GroupTimeoutSlack < 0 {
		return fmt.Errorf("motion timeouts must not be negative")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
