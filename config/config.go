// Package config loads the engine's runtime configuration, following the
// teacher's cli/start.go pattern (viper-backed Config struct, BindFlag
// wiring cobra flags to viper keys, LoadWithRootdir reading a rootdir
// config file with environment/flag overrides).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/meshdoc/core/errors"
)

const (
	DefaultRootDirName  = ".meshcore"
	DefaultConfigName   = "config"
	EnvPrefix           = "MESHCORE"
	badgerDatastoreName = "badger"
)

// NetConfig configures the net/secure/wire layer.
type NetConfig struct {
	P2PAddress  string `mapstructure:"p2paddress"`
	P2PDisabled bool   `mapstructure:"p2pdisabled"`
	Peers       string `mapstructure:"peers"`
	RPCTimeout  string `mapstructure:"rpctimeout"`
}

func (n NetConfig) RPCTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(n.RPCTimeout)
}

// DatastoreConfig configures StorageEngine's backing store.
type DatastoreConfig struct {
	Store         string `mapstructure:"store"` // "badger" | "memory"
	Path          string `mapstructure:"path"`
	MaxTxnRetries int    `mapstructure:"maxtxnretries"`
}

// SyncConfig configures sync.Scheduler: strategy thresholds, retry
// backoff, and concurrency caps, per spec.md §4.5/§5.
type SyncConfig struct {
	MaxConcurrentSyncs int     `mapstructure:"maxconcurrentsyncs"`
	RetryBaseMS        int     `mapstructure:"retrybasems"`
	RetryMultiplier    float64 `mapstructure:"retrymultiplier"`
	RetryCapMS         int     `mapstructure:"retrycapms"`
	MaxAttempts        int     `mapstructure:"maxattempts"`

	// MissingParentThreshold is the maximum number of missing parents a
	// gossip'd delta may have before escalating DagCatchup to StateResync
	// (spec.md §4.4 rule 2/3).
	MissingParentThreshold int `mapstructure:"missingparentthreshold"`
	// EntityCountDivergencePct escalates to StateResync above this
	// percentage divergence (spec.md §4.4 rule 4).
	EntityCountDivergencePct int `mapstructure:"entitycountdivergencepct"`
	// BloomFalsePositiveRate is loaded but not read by any component: the
	// BloomFilter strategy runs as EntityDiff.
	BloomFalsePositiveRate float64 `mapstructure:"bloomfalsepositiverate"`
	// ContextCacheSize sizes the storage engine's entity LRU cache.
	// AppCacheSize is loaded but not read by any component.
	ContextCacheSize int `mapstructure:"contextcachesize"`
	AppCacheSize     int `mapstructure:"appcachesize"`
}

// LogConfig configures the logging package.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
}

type Config struct {
	Rootdir   string
	Net       NetConfig       `mapstructure:"net"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`

	v *viper.Viper
}

// DefaultConfig returns a Config with the defaults used when no config
// file, environment variable, or flag overrides a field.
func DefaultConfig() *Config {
	cfg := &Config{
		v: viper.New(),
		Net: NetConfig{
			P2PAddress: "/ip4/0.0.0.0/tcp/9171",
			RPCTimeout: "10s",
		},
		Datastore: DatastoreConfig{
			Store:         badgerDatastoreName,
			MaxTxnRetries: 5,
		},
		Sync: SyncConfig{
			MaxConcurrentSyncs:       16,
			RetryBaseMS:              200,
			RetryMultiplier:          2.0,
			RetryCapMS:               30_000,
			MaxAttempts:              8,
			MissingParentThreshold:   32,
			EntityCountDivergencePct: 50,
			BloomFalsePositiveRate:   0.01,
			ContextCacheSize:         256,
			AppCacheSize:             64,
		},
		Log: LogConfig{Level: "info"},
	}
	cfg.setDefaults()
	return cfg
}

func (cfg *Config) setDefaults() {
	v := cfg.v
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("net.p2paddress", cfg.Net.P2PAddress)
	v.SetDefault("net.p2pdisabled", cfg.Net.P2PDisabled)
	v.SetDefault("net.peers", cfg.Net.Peers)
	v.SetDefault("net.rpctimeout", cfg.Net.RPCTimeout)

	v.SetDefault("datastore.store", cfg.Datastore.Store)
	v.SetDefault("datastore.path", cfg.Datastore.Path)
	v.SetDefault("datastore.maxtxnretries", cfg.Datastore.MaxTxnRetries)

	v.SetDefault("sync.maxconcurrentsyncs", cfg.Sync.MaxConcurrentSyncs)
	v.SetDefault("sync.retrybasems", cfg.Sync.RetryBaseMS)
	v.SetDefault("sync.retrymultiplier", cfg.Sync.RetryMultiplier)
	v.SetDefault("sync.retrycapms", cfg.Sync.RetryCapMS)
	v.SetDefault("sync.maxattempts", cfg.Sync.MaxAttempts)
	v.SetDefault("sync.missingparentthreshold", cfg.Sync.MissingParentThreshold)
	v.SetDefault("sync.entitycountdivergencepct", cfg.Sync.EntityCountDivergencePct)
	v.SetDefault("sync.bloomfalsepositiverate", cfg.Sync.BloomFalsePositiveRate)
	v.SetDefault("sync.contextcachesize", cfg.Sync.ContextCacheSize)
	v.SetDefault("sync.appcachesize", cfg.Sync.AppCacheSize)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.debug", cfg.Log.Debug)
}

// BindFlag binds a viper key to a pflag, matching the teacher's
// cfg.BindFlag(key, cmd.Flags().Lookup(name)) call shape.
func (cfg *Config) BindFlag(key string, flag *pflag.Flag) error {
	return cfg.v.BindPFlag(key, flag)
}

func (cfg *Config) ConfigFilePath() string {
	return filepath.Join(cfg.Rootdir, DefaultConfigName+".yaml")
}

func (cfg *Config) ConfigFileExists() bool {
	_, err := os.Stat(cfg.ConfigFilePath())
	return err == nil
}

// LoadWithRootdir loads config from cfg.Rootdir; if requireExisting is
// true and no file is found it is an error, matching the teacher's
// PersistentPreRunE branch on cfg.ConfigFileExists().
func (cfg *Config) LoadWithRootdir(requireExisting bool) error {
	if cfg.Rootdir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap("resolving home directory", err)
		}
		cfg.Rootdir = filepath.Join(home, DefaultRootDirName)
	}

	cfg.v.SetConfigName(DefaultConfigName)
	cfg.v.SetConfigType("yaml")
	cfg.v.AddConfigPath(cfg.Rootdir)

	if err := cfg.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && !requireExisting {
			return cfg.v.Unmarshal(cfg)
		}
		return errors.Wrap("reading config file", err)
	}
	return errors.Wrap("decoding config", cfg.v.Unmarshal(cfg))
}

func FolderExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CreateRootDirAndConfigFile creates cfg.Rootdir and writes the current
// (default) config into it.
func (cfg *Config) CreateRootDirAndConfigFile() error {
	if err := os.MkdirAll(cfg.Rootdir, 0o755); err != nil {
		return errors.Wrap(fmt.Sprintf("creating rootdir %s", cfg.Rootdir), err)
	}
	return cfg.WriteConfigFile()
}

func (cfg *Config) WriteConfigFile() error {
	return cfg.v.WriteConfigAs(cfg.ConfigFilePath())
}

// NewErrLoadingConfig wraps a config-loading failure.
func NewErrLoadingConfig(cause error) error {
	return errors.Wrap("loading config", cause)
}
