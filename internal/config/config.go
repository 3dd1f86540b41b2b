// Package config loads the trainer settings. Values are layered: built-in
// defaults, then an optional YAML file, then VITRUVIAN_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/vitruvian-trainer/internal/handle"
	"github.com/lowaak/vitruvian-trainer/internal/publish"
	"github.com/lowaak/vitruvian-trainer/internal/reps"
	"github.com/lowaak/vitruvian-trainer/internal/storage"
	"github.com/lowaak/vitruvian-trainer/internal/transport"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

const EnvPrefix = "VITRUVIAN"

const (
	TransportBLE       = "ble"
	TransportSimulated = "simulated"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Workout   WorkoutConfig   `mapstructure:"workout"`
	Handle    HandleConfig    `mapstructure:"handle"`
	Reps      RepsConfig      `mapstructure:"reps"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publish   PublishConfig   `mapstructure:"publish"`
	API       APIConfig       `mapstructure:"api"`
}

// LogConfig controls the rotating log file. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Stderr     bool   `mapstructure:"stderr"`
}

type TransportConfig struct {
	Kind                string        `mapstructure:"kind"`
	NamePrefix          string        `mapstructure:"name_prefix"`
	ScanTimeout         time.Duration `mapstructure:"scan_timeout"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	MonitorPollInterval time.Duration `mapstructure:"monitor_poll_interval"`
	KeepAliveInterval   time.Duration `mapstructure:"keep_alive_interval"`
	PreferredDeviceFile string        `mapstructure:"preferred_device_file"`
	// SimulatedListen is the control server of the simulated device.
	SimulatedListen string `mapstructure:"simulated_listen"`
}

type WorkoutConfig struct {
	CountdownSeconds   int           `mapstructure:"countdown_seconds"`
	AutoStartHold      time.Duration `mapstructure:"auto_start_hold"`
	AutoStopHold       time.Duration `mapstructure:"auto_stop_hold"`
	DefaultRestSeconds int           `mapstructure:"default_rest_seconds"`
	Autoplay           bool          `mapstructure:"autoplay"`
	MaxMetricSamples   int           `mapstructure:"max_metric_samples"`
	PersistTimeout     time.Duration `mapstructure:"persist_timeout"`
	RoutineFile        string        `mapstructure:"routine_file"`
}

type HandleConfig struct {
	GrabPosition    float64 `mapstructure:"grab_position"`
	ReleasePosition float64 `mapstructure:"release_position"`
	GrabVelocity    float64 `mapstructure:"grab_velocity"`
	VelocityWindow  int     `mapstructure:"velocity_window"`
}

type RepsConfig struct {
	MinMeaningfulRange float64 `mapstructure:"min_meaningful_range"`
	DangerZoneFraction float64 `mapstructure:"danger_zone_fraction"`
	MaxCounterJump     int     `mapstructure:"max_counter_jump"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type PublishConfig struct {
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// APIConfig enables the status API when Listen is set.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

func dataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".vitruvian-trainer")
}

func setDefaults(v *viper.Viper) {
	wc := workout.DefaultConfig()
	bc := transport.DefaultBLEConfig()

	v.SetDefault("log.file", filepath.Join(dataDir(), "vitruvian.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.stderr", true)

	v.SetDefault("transport.kind", TransportBLE)
	v.SetDefault("transport.name_prefix", bc.NamePrefix)
	v.SetDefault("transport.scan_timeout", 15*time.Second)
	v.SetDefault("transport.connect_timeout", bc.ConnectTimeout)
	v.SetDefault("transport.monitor_poll_interval", bc.MonitorPollInterval)
	v.SetDefault("transport.keep_alive_interval", bc.KeepAliveInterval)
	v.SetDefault("transport.preferred_device_file", transport.DefaultPreferredDevicePath())
	v.SetDefault("transport.simulated_listen", "127.0.0.1:8090")

	v.SetDefault("workout.countdown_seconds", wc.CountdownSeconds)
	v.SetDefault("workout.auto_start_hold", wc.AutoStartHold)
	v.SetDefault("workout.auto_stop_hold", wc.AutoStopHold)
	v.SetDefault("workout.default_rest_seconds", wc.DefaultRestSeconds)
	v.SetDefault("workout.autoplay", wc.Autoplay)
	v.SetDefault("workout.max_metric_samples", wc.MaxMetricSamples)
	v.SetDefault("workout.persist_timeout", wc.PersistTimeout)
	v.SetDefault("workout.routine_file", "")

	v.SetDefault("handle.grab_position", wc.Handle.GrabPosition)
	v.SetDefault("handle.release_position", wc.Handle.ReleasePosition)
	v.SetDefault("handle.grab_velocity", wc.Handle.GrabVelocity)
	v.SetDefault("handle.velocity_window", wc.Handle.VelocityWindow)

	v.SetDefault("reps.min_meaningful_range", wc.Reps.MinMeaningfulRange)
	v.SetDefault("reps.danger_zone_fraction", wc.Reps.DangerZoneFraction)
	v.SetDefault("reps.max_counter_jump", wc.Reps.MaxCounterJump)

	v.SetDefault("storage.driver", storage.DriverSQLite)
	v.SetDefault("storage.path", filepath.Join(dataDir(), "workouts.db"))
	v.SetDefault("storage.dsn", "")

	v.SetDefault("publish.mqtt.enabled", false)
	v.SetDefault("publish.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("publish.mqtt.client_id", "vitruvian-trainer")
	v.SetDefault("publish.mqtt.username", "")
	v.SetDefault("publish.mqtt.password", "")
	v.SetDefault("publish.mqtt.topic_prefix", "vitruvian")
	v.SetDefault("publish.mqtt.qos", 1)
	v.SetDefault("publish.mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("publish.redis.enabled", false)
	v.SetDefault("publish.redis.addr", "localhost:6379")
	v.SetDefault("publish.redis.password", "")
	v.SetDefault("publish.redis.db", 0)
	v.SetDefault("publish.redis.key_prefix", "vitruvian")

	v.SetDefault("publish.kafka.enabled", false)
	v.SetDefault("publish.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("publish.kafka.topic", "vitruvian.workouts")

	v.SetDefault("api.listen", "")
}

// flagKeys maps each command-line flag to the setting it overrides.
var flagKeys = map[string]string{
	"transport":      "transport.kind",
	"sim-listen":     "transport.simulated_listen",
	"log-file":       "log.file",
	"routine":        "workout.routine_file",
	"countdown":      "workout.countdown_seconds",
	"storage-driver": "storage.driver",
	"storage-path":   "storage.path",
	"storage-dsn":    "storage.dsn",
	"api-listen":     "api.listen",
}

// NewFlagSet returns the flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("transport", TransportBLE, "ble or simulated")
	fs.String("sim-listen", "", "control address of the simulated device")
	fs.String("log-file", "", "rotating log file, empty for stderr only")
	fs.String("routine", "", "routine YAML file to load at startup")
	fs.Int("countdown", 0, "countdown seconds before a set starts")
	fs.String("storage-driver", storage.DriverSQLite, "sqlite or postgres")
	fs.String("storage-path", "", "sqlite database file")
	fs.String("storage-dsn", "", "postgres connection string")
	fs.String("api-listen", "", "status API address, e.g. :8080")
	return fs
}

// Load parses args and returns the merged, validated configuration. It
// returns pflag.ErrHelp when -h was given.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("vitruvian")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every impossible value at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Transport.Kind == TransportBLE || c.Transport.Kind == TransportSimulated,
		"transport.kind must be %q or %q, got %q", TransportBLE, TransportSimulated, c.Transport.Kind)
	check(c.Transport.ScanTimeout > 0, "transport.scan_timeout must be positive")
	check(c.Transport.ConnectTimeout > 0, "transport.connect_timeout must be positive")
	check(c.Transport.MonitorPollInterval > 0, "transport.monitor_poll_interval must be positive")
	check(c.Transport.KeepAliveInterval > 0, "transport.keep_alive_interval must be positive")

	check(c.Workout.CountdownSeconds >= 0, "workout.countdown_seconds must not be negative")
	check(c.Workout.AutoStartHold > 0, "workout.auto_start_hold must be positive")
	check(c.Workout.AutoStopHold > 0, "workout.auto_stop_hold must be positive")
	check(c.Workout.DefaultRestSeconds >= 0, "workout.default_rest_seconds must not be negative")
	check(c.Workout.MaxMetricSamples > 0, "workout.max_metric_samples must be positive")
	check(c.Workout.PersistTimeout > 0, "workout.persist_timeout must be positive")

	check(c.Handle.ReleasePosition < c.Handle.GrabPosition,
		"handle.release_position (%v) must be below handle.grab_position (%v)", c.Handle.ReleasePosition, c.Handle.GrabPosition)
	check(c.Handle.GrabVelocity >= 0, "handle.grab_velocity must not be negative")
	check(c.Handle.VelocityWindow > 0, "handle.velocity_window must be positive")

	check(c.Reps.DangerZoneFraction > 0 && c.Reps.DangerZoneFraction < 1, "reps.danger_zone_fraction must be within (0, 1)")
	check(c.Reps.MinMeaningfulRange >= 0, "reps.min_meaningful_range must not be negative")
	check(c.Reps.MaxCounterJump > 0, "reps.max_counter_jump must be positive")

	switch c.Storage.Driver {
	case storage.DriverSQLite:
		check(c.Storage.Path != "", "storage.path is required for sqlite")
	case storage.DriverPostgres:
		check(c.Storage.DSN != "", "storage.dsn is required for postgres")
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", storage.DriverSQLite, storage.DriverPostgres, c.Storage.Driver))
	}

	if c.Publish.MQTT.Enabled {
		check(c.Publish.MQTT.Broker != "", "publish.mqtt.broker is required")
		check(c.Publish.MQTT.QoS >= 0 && c.Publish.MQTT.QoS <= 2, "publish.mqtt.qos must be 0, 1 or 2")
	}
	if c.Publish.Redis.Enabled {
		check(c.Publish.Redis.Addr != "", "publish.redis.addr is required")
	}
	if c.Publish.Kafka.Enabled {
		check(len(c.Publish.Kafka.Brokers) > 0, "publish.kafka.brokers is required")
		check(c.Publish.Kafka.Topic != "", "publish.kafka.topic is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// WorkoutConfig returns the controller settings. The countdown and rest tick
// is always one second.
func (c *Config) WorkoutConfig() workout.Config {
	wc := workout.DefaultConfig()
	wc.CountdownSeconds = c.Workout.CountdownSeconds
	wc.AutoStartHold = c.Workout.AutoStartHold
	wc.AutoStopHold = c.Workout.AutoStopHold
	wc.DefaultRestSeconds = c.Workout.DefaultRestSeconds
	wc.Autoplay = c.Workout.Autoplay
	wc.MaxMetricSamples = c.Workout.MaxMetricSamples
	wc.PersistTimeout = c.Workout.PersistTimeout
	wc.Handle = handle.Config{
		GrabPosition:    c.Handle.GrabPosition,
		ReleasePosition: c.Handle.ReleasePosition,
		GrabVelocity:    c.Handle.GrabVelocity,
		VelocityWindow:  c.Handle.VelocityWindow,
	}
	wc.Reps = reps.Config{
		MinMeaningfulRange: c.Reps.MinMeaningfulRange,
		DangerZoneFraction: c.Reps.DangerZoneFraction,
		MaxCounterJump:     c.Reps.MaxCounterJump,
	}
	return wc
}

func (c *Config) BLEConfig() transport.BLEConfig {
	return transport.BLEConfig{
		NamePrefix:          c.Transport.NamePrefix,
		ConnectTimeout:      c.Transport.ConnectTimeout,
		MonitorPollInterval: c.Transport.MonitorPollInterval,
		KeepAliveInterval:   c.Transport.KeepAliveInterval,
	}
}

func (c *Config) SimulatedDeviceConfig() transport.SimulatedDeviceConfig {
	return transport.SimulatedDeviceConfig{
		ListenAddr:      c.Transport.SimulatedListen,
		MonitorInterval: c.Transport.MonitorPollInterval,
	}
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, DSN: c.Storage.DSN}
}

func (c *Config) MQTTConfig() publish.MQTTConfig {
	m := c.Publish.MQTT
	return publish.MQTTConfig{
		Broker:         m.Broker,
		ClientID:       m.ClientID,
		Username:       m.Username,
		Password:       m.Password,
		TopicPrefix:    m.TopicPrefix,
		QoS:            byte(m.QoS),
		ConnectTimeout: m.ConnectTimeout,
	}
}

func (c *Config) RedisConfig() publish.RedisConfig {
	r := c.Publish.Redis
	return publish.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, KeyPrefix: r.KeyPrefix}
}

func (c *Config) KafkaConfig() publish.KafkaConfig {
	return publish.KafkaConfig{Brokers: c.Publish.Kafka.Brokers, Topic: c.Publish.Kafka.Topic}
}
