// Package config provides configuration management for tvcaptd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 5
	defaultMaxIdleConns    = 2
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultMaxVideoDevices  = 4
	defaultMaxEntries       = 256
	defaultMaxRecordingLen  = 4 * time.Hour
	defaultTickInterval     = 3 * time.Second
	defaultMissedThreshold  = 10 * time.Minute
	defaultHistoryLength    = 64
	defaultNProf            = 4
	defaultSelectTimeout    = 10 * time.Second
	defaultReadBufferSize   = 8 * 1024 * 1024

	defaultMaxTranscodeThreads = 10
	defaultTranscodeBackoff    = 300 * time.Second
	defaultMaxWaitToTranscode  = 1800 * time.Second
	defaultMaxLoadForTranscode = 4.0
	defaultTranscodeWatchdog   = 24 * time.Hour

	defaultShutdownMaxLoad   = 0.5
	defaultShutdownMinTime   = 5 * time.Minute
	defaultWakeupMargin      = 5 * time.Minute
	defaultSignalWaitTimeout = 15 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Devices   DevicesConfig   `mapstructure:"devices"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Power     PowerConfig     `mapstructure:"power"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
	Channels  map[string]string `mapstructure:"channels"`
}

// ServerConfig holds HTTP admin-surface server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds the history ledger's database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the capture/transcode output directory layout.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`   // data root ("<data>" in spec §4.5-4.6)
	WorkDir   string `mapstructure:"work_dir"`   // <data>/vtmp subdirectory for working captures
	OutputDir string `mapstructure:"output_dir"` // <data>/mp4 subdirectory for transcoded output
	KeepDir   string `mapstructure:"keep_dir"`   // keep-source destination when a profile keeps the original
	JournalDir string `mapstructure:"journal_dir"`
	ProfileDirectories bool `mapstructure:"profile_directories"` // layout transcode output as <data>/mp4/<profile>/
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DevicesConfig describes the fixed pool of capture devices.
type DevicesConfig struct {
	MaxVideo int            `mapstructure:"max_video"`
	Nodes    []DeviceConfig `mapstructure:"nodes"`
}

// DeviceConfig names a single capture device's backing resource. Source
// selects the file-backed development/test device and is required: the
// daemon does not fall back to a V4L2 device at DevicePath when it is
// empty, and DevicePath, TunerPath and ChannelFile are not read by
// buildDevicePool.
type DeviceConfig struct {
	DevicePath  string `mapstructure:"device_path"`
	TunerPath   string `mapstructure:"tuner_path"`
	ChannelFile string `mapstructure:"channel_file"`
	Source      string `mapstructure:"source"`
}

// ProfilesConfig configures the transcoding-profile registry.
type ProfilesConfig struct {
	Dir            string `mapstructure:"dir"`
	DefaultName    string `mapstructure:"default_name"`
	MaxPerJob      int    `mapstructure:"max_per_job"` // N_PROF
	WatchForChange bool   `mapstructure:"watch_for_change"`
}

// SchedulerConfig configures the dispatcher and per-device queues.
type SchedulerConfig struct {
	MaxEntries           int           `mapstructure:"max_entries"`
	MaxRecordingDuration time.Duration `mapstructure:"max_recording_duration"`
	TickInterval         time.Duration `mapstructure:"tick_interval"` // T_tick, 1-10s
	MissedThreshold      time.Duration `mapstructure:"missed_threshold"`
	SelectTimeout        time.Duration `mapstructure:"select_timeout"`
	ReadBufferSize       ByteSize      `mapstructure:"read_buffer_size"`
	HistoryLength        int           `mapstructure:"history_length"`
	ChannelSwitchExternal bool         `mapstructure:"channel_switch_external"`
}

// TranscodeConfig configures the transcode worker pool.
type TranscodeConfig struct {
	MaxThreads          int           `mapstructure:"max_threads"` // MAX_FILETRANSC_THREADS
	MaxLoadForTranscode float64       `mapstructure:"max_load_for_transcoding"`
	Backoff             time.Duration `mapstructure:"backoff"`
	MaxWaitingTime      time.Duration `mapstructure:"max_waiting_time_to_transcode"`
	Watchdog            time.Duration `mapstructure:"watchdog"`
	BinaryPath          string        `mapstructure:"binary_path"` // external transcoder binary (empty = auto-detect ffmpeg)
}

// PowerConfig configures the auto-shutdown/wake controller.
type PowerConfig struct {
	AutoShutdown      bool          `mapstructure:"auto_shutdown"`
	RequireNoLogin    bool          `mapstructure:"require_no_login"`
	ShutdownMaxLoad   float64       `mapstructure:"shutdown_max_5load"`
	ShutdownMinTime   time.Duration `mapstructure:"shutdown_min_time"`
	WakeupMargin      time.Duration `mapstructure:"wakeup_margin"`
	SignalWaitTimeout time.Duration `mapstructure:"signal_wait_timeout"`
}

// ScriptsConfig names the external collaborator scripts the capture and
// power subsystems invoke, per the External Interfaces section.
type ScriptsConfig struct {
	ChannelSwitch string `mapstructure:"channel_switch"`
	PostRecording string `mapstructure:"post_recording"`
	Shutdown      string `mapstructure:"shutdown"`
	Startup       string `mapstructure:"startup"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TVCAPTD_ and use underscores for
// nesting. Example: TVCAPTD_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tvcaptd")
		v.AddConfigPath("$HOME/.tvcaptd")
	}

	v.SetEnvPrefix("TVCAPTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tvcaptd-history.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.work_dir", "vtmp")
	v.SetDefault("storage.output_dir", "mp4")
	v.SetDefault("storage.keep_dir", "keep")
	v.SetDefault("storage.journal_dir", "db")
	v.SetDefault("storage.profile_directories", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("devices.max_video", defaultMaxVideoDevices)

	v.SetDefault("profiles.dir", "./profiles")
	v.SetDefault("profiles.default_name", "default")
	v.SetDefault("profiles.max_per_job", defaultNProf)
	v.SetDefault("profiles.watch_for_change", true)

	v.SetDefault("scheduler.max_entries", defaultMaxEntries)
	v.SetDefault("scheduler.max_recording_duration", defaultMaxRecordingLen)
	v.SetDefault("scheduler.tick_interval", defaultTickInterval)
	v.SetDefault("scheduler.missed_threshold", defaultMissedThreshold)
	v.SetDefault("scheduler.select_timeout", defaultSelectTimeout)
	v.SetDefault("scheduler.read_buffer_size", defaultReadBufferSize)
	v.SetDefault("scheduler.history_length", defaultHistoryLength)
	v.SetDefault("scheduler.channel_switch_external", false)

	v.SetDefault("transcode.max_threads", defaultMaxTranscodeThreads)
	v.SetDefault("transcode.max_load_for_transcoding", defaultMaxLoadForTranscode)
	v.SetDefault("transcode.backoff", defaultTranscodeBackoff)
	v.SetDefault("transcode.max_waiting_time_to_transcode", defaultMaxWaitToTranscode)
	v.SetDefault("transcode.watchdog", defaultTranscodeWatchdog)
	v.SetDefault("transcode.binary_path", "")

	v.SetDefault("power.auto_shutdown", false)
	v.SetDefault("power.require_no_login", true)
	v.SetDefault("power.shutdown_max_5load", defaultShutdownMaxLoad)
	v.SetDefault("power.shutdown_min_time", defaultShutdownMinTime)
	v.SetDefault("power.wakeup_margin", defaultWakeupMargin)
	v.SetDefault("power.signal_wait_timeout", defaultSignalWaitTimeout)

	v.SetDefault("scripts.channel_switch", "")
	v.SetDefault("scripts.post_recording", "")
	v.SetDefault("scripts.shutdown", "")
	v.SetDefault("scripts.startup", "")

	// The station/channel table (external-interfaces frequency/channel map):
	// opaque channel strings the scheduler accepts map to tuner channel
	// codes here. A handful of sample stations ship as defaults so a fresh
	// install can add a recording without first editing the config.
	v.SetDefault("channels", map[string]string{
		"BBC1": "bbc1",
		"BBC2": "bbc2",
		"ITV":  "itv",
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Devices.MaxVideo < 1 {
		return fmt.Errorf("devices.max_video must be at least 1")
	}

	if c.Scheduler.TickInterval < time.Second || c.Scheduler.TickInterval > 10*time.Second {
		return fmt.Errorf("scheduler.tick_interval must be between 1s and 10s")
	}

	if c.Transcode.MaxThreads < 1 {
		return fmt.Errorf("transcode.max_threads must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkPath returns the full path to the working-capture directory.
func (c *StorageConfig) WorkPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.WorkDir)
}

// OutputPath returns the full path to the transcode output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// KeepPath returns the full path to the keep-source directory.
func (c *StorageConfig) KeepPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.KeepDir)
}
