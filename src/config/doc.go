// Package config defines the configuration for a dagger node.
//
// Regardless of how dagger is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, dagger relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. dagger keygen).
//  peers.json // a JSON file containing the static list of peers.
//  genesis.json // the signed root transaction shared by every node (cf. dagger genesis).
//  dagger.toml // (optional) configuration file, overridden by command line flags.
package config
