// Package peers defines the concept of a dagger peer and implements functions
// to manage the static list of peers.
//
// A dagger peer is another node of the same network. Peers are identified by
// their public keys, and optionaly a moniker which is a non-unique
// user-friendly name. A peer must also specify an IP address and port where it
// can be reached.
//
// Upon starting up, dagger expects to find a peers.json file in its data
// directory. The file lists the peers that the node syncs with. There is no
// discovery: the list only changes when an operator edits the file and
// restarts the node. An entry whose address is the node's own advertised
// address is ignored.
package peers
