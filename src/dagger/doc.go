// Package dagger assembles a node from its configuration: key, peers,
// genesis, store, transport, node and HTTP service.
package dagger
