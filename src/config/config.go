package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultGenesisFile is the default name of the file containing the signed
	// root transaction of the network.
	DefaultGenesisFile = "genesis.json"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultHeartbeatTimeout     = 10 * time.Millisecond
	DefaultSlowHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultCacheSize            = 10000
	DefaultMaxPool              = 2
	DefaultStore                = false
	DefaultSyncRetries          = 3
	DefaultFinalityThreshold    = ledger.DefaultFinalityThreshold
	DefaultMaxParents           = ledger.DefaultMaxParents
	DefaultPendingLimit         = ledger.DefaultPendingLimit
	DefaultPendingTTL           = ledger.DefaultPendingTTL
	DefaultSweepInterval        = 30 * time.Second
)

// Config contains all the configuration properties of a dagger node.
type Config struct {
	// DataDir is the top-level directory containing dagger configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, is the name of a file in DataDir that receives a copy
	// of every log entry.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node syncs with other
	// nodes. in some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If empty,
	// and "no-service" is not set, the API handlers are created but not
	// served.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the frequency of the sync timer while a peer still
	// has transactions we do not know.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the sync timer once a peer has
	// nothing new to offer.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of sync RPCs. A fetch that does not complete
	// within this delay is retried against another peer.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// SyncRetries bounds the number of peers a missing transaction is
	// requested from before it is forgotten.
	SyncRetries int `mapstructure:"sync-retries"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the number of decoded transactions kept in memory by the
	// badger store.
	CacheSize int `mapstructure:"cache-size"`

	// FinalityThreshold is the weight a transaction must exceed to be
	// confirmed.
	FinalityThreshold uint64 `mapstructure:"finality-threshold"`

	// MaxParents is the maximum number of parents a transaction may reference.
	MaxParents int `mapstructure:"max-parents"`

	// PendingLimit bounds the number of transactions waiting for their
	// parents.
	PendingLimit int `mapstructure:"pending-limit"`

	// PendingTTL is how long a transaction may wait for its parents.
	PendingTTL time.Duration `mapstructure:"pending-ttl"`

	// SweepInterval is the period of the job that expires pending
	// transactions and requests their missing parents again.
	SweepInterval time.Duration `mapstructure:"sweep-interval"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SlowHeartbeatTimeout: DefaultSlowHeartbeatTimeout,
		TCPTimeout:           DefaultTCPTimeout,
		SyncRetries:          DefaultSyncRetries,
		CacheSize:            DefaultCacheSize,
		MaxPool:              DefaultMaxPool,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
		FinalityThreshold:    DefaultFinalityThreshold,
		MaxParents:           DefaultMaxParents,
		PendingLimit:         DefaultPendingLimit,
		PendingTTL:           DefaultPendingTTL,
		SweepInterval:        DefaultSweepInterval,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level dagger directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// GenesisFile returns the full path of the file containing the root
// transaction.
func (c *Config) GenesisFile() string {
	return filepath.Join(c.DataDir, DefaultGenesisFile)
}

// LedgerConfig extracts the settings of the ledger engine.
func (c *Config) LedgerConfig() *ledger.Config {
	return &ledger.Config{
		FinalityThreshold: c.FinalityThreshold,
		MaxParents:        c.MaxParents,
		PendingLimit:      c.PendingLimit,
		PendingTTL:        c.PendingTTL,
		WeightBatchSize:   ledger.DefaultWeightBatchSize,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "dagger".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			path := filepath.Join(c.DataDir, c.LogFile)
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				pathMap[level] = path
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "dagger")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level dagger config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Dagger")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Dagger")
		} else {
			return filepath.Join(home, ".dagger")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
