package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/dagger/src/dagger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a dagger node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runDagger,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runDagger(cmd *cobra.Command, args []string) error {
	engine := dagger.NewDagger(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		_config.Logger().Info("Received signal, shutting down")
		engine.Node.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file in datadir")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for dagger node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for dagger node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().Int("sync-retries", _config.SyncRetries, "Number of peers asked for a missing transaction")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of transactions in the LRU cache")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between syncs while a peer has new transactions")
	cmd.Flags().Duration("slow-heartbeat", _config.SlowHeartbeatTimeout, "Time between syncs once a peer is in sync")
	cmd.Flags().Duration("sweep-interval", _config.SweepInterval, "Time between sweeps of the pending pool")

	// Ledger
	cmd.Flags().Uint64("finality-threshold", _config.FinalityThreshold, "Weight a transaction must exceed to be confirmed")
	cmd.Flags().Int("max-parents", _config.MaxParents, "Maximum number of parents of a transaction")
	cmd.Flags().Int("pending-limit", _config.PendingLimit, "Maximum number of transactions waiting for their parents")
	cmd.Flags().Duration("pending-ttl", _config.PendingTTL, "How long a transaction may wait for its parents")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	configFile, err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logger := _config.Logger()

	if configFile != "" {
		logger.Debugf("Using config file: %s", configFile)
	} else {
		logger.Debugf("No config file found in: %s", _config.DataDir)
	}

	logFields := logrus.Fields{
		"DataDir":              _config.DataDir,
		"BindAddr":             _config.BindAddr,
		"AdvertiseAddr":        _config.AdvertiseAddr,
		"NoService":            _config.NoService,
		"ServiceAddr":          _config.ServiceAddr,
		"MaxPool":              _config.MaxPool,
		"Store":                _config.Store,
		"LogLevel":             _config.LogLevel,
		"LogFile":              _config.LogFile,
		"Moniker":              _config.Moniker,
		"HeartbeatTimeout":     _config.HeartbeatTimeout,
		"SlowHeartbeatTimeout": _config.SlowHeartbeatTimeout,
		"TCPTimeout":           _config.TCPTimeout,
		"SyncRetries":          _config.SyncRetries,
		"FinalityThreshold":    _config.FinalityThreshold,
		"MaxParents":           _config.MaxParents,
		"PendingLimit":         _config.PendingLimit,
		"PendingTTL":           _config.PendingTTL,
		"SweepInterval":        _config.SweepInterval,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["CacheSize"] = _config.CacheSize
	}

	logger.WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper. It returns the config file
// that was used, if any.
func bindFlagsLoadViper(cmd *cobra.Command) (string, error) {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return "", err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return "", err
	}

	// look for config file in [datadir]/dagger.toml (.json, .yaml also work)
	viper.SetConfigName("dagger")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	configFile := ""

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		configFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return "", err
	}

	// second unmarshal to read from config file
	return configFile, viper.Unmarshal(_config)
}
