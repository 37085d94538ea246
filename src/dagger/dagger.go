package dagger

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/mosaicnetworks/dagger/src/node"
	"github.com/mosaicnetworks/dagger/src/peers"
	"github.com/mosaicnetworks/dagger/src/service"
	"github.com/sirupsen/logrus"
)

// Dagger is a struct containing the key parts of a dagger node
type Dagger struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     ledger.Store
	Peers     *peers.PeerSet
	Genesis   *ledger.Transaction
	Service   *service.Service
	logger    *logrus.Entry
}

// NewDagger is a factory method to produce a Dagger instance.
func NewDagger(c *config.Config) *Dagger {
	engine := &Dagger{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the dagger engine
func (d *Dagger) Init() error {
	if err := d.initKey(); err != nil {
		d.logger.Error("dagger.go:Init() initKey")
		return err
	}

	if err := d.initPeers(); err != nil {
		d.logger.Error("dagger.go:Init() initPeers")
		return err
	}

	if err := d.initGenesis(); err != nil {
		d.logger.Error("dagger.go:Init() initGenesis")
		return err
	}

	if err := d.initStore(); err != nil {
		d.logger.Error("dagger.go:Init() initStore")
		return err
	}

	if err := d.initTransport(); err != nil {
		d.logger.Error("dagger.go:Init() initTransport")
		return err
	}

	if err := d.initNode(); err != nil {
		d.logger.Error("dagger.go:Init() initNode")
		return err
	}

	if err := d.initService(); err != nil {
		d.logger.Error("dagger.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the HTTP service, if any, and the node. It blocks until the node
// is shut down.
func (d *Dagger) Run() {
	if d.Service != nil && d.Config.ServiceAddr != "" {
		go d.Service.Serve()
	}

	d.Node.Run()
}

func (d *Dagger) initKey() error {
	if d.Config.Key == nil {
		simpleKeyFile := keys.NewSimpleKeyfile(d.Config.Keyfile())

		privKey, err := simpleKeyFile.ReadKey()
		if err != nil {
			d.logger.Errorf("Error reading private key from file: %v", err)
			return err
		}

		d.Config.Key = privKey
	}

	return nil
}

// initPeers reads peers.json from the data directory. A missing file means a
// node with no peers.
func (d *Dagger) initPeers() error {
	if d.Peers != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(d.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		d.logger.Warn("No peers.json found, running without peers")
		participants = peers.NewPeerSet(nil)
	}

	d.Peers = participants

	return nil
}

// initGenesis reads genesis.json from the data directory. Without it, the
// node has to receive the root from its peers.
func (d *Dagger) initGenesis() error {
	if d.Genesis != nil {
		return nil
	}

	genesis, err := ReadGenesis(d.Config.GenesisFile())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		d.logger.WithField("path", d.Config.GenesisFile()).Warn("No genesis file")
		return nil
	}

	d.Genesis = genesis

	return nil
}

func (d *Dagger) initStore() error {
	if !d.Config.Store {
		d.logger.Debug("Creating InmemStore")
		d.Store = ledger.NewInmemStore()
		return nil
	}

	dbPath := d.Config.DatabaseDir

	d.logger.WithField("path", dbPath).Debug("Creating BadgerStore")

	store, err := ledger.NewBadgerStore(d.Config.CacheSize, dbPath, d.logger)
	if err != nil {
		return err
	}

	d.Store = store

	return nil
}

func (d *Dagger) initTransport() error {
	trans, err := net.NewTCPTransport(
		d.Config.BindAddr,
		d.Config.AdvertiseAddr,
		d.Config.MaxPool,
		d.Config.TCPTimeout,
		d.logger,
	)
	if err != nil {
		return err
	}

	d.Transport = trans

	return nil
}

func (d *Dagger) initNode() error {
	n, err := node.NewNode(d.Config, d.Store, d.Peers, d.Transport)
	if err != nil {
		return fmt.Errorf("failed to create node: %s", err)
	}

	if err := n.Init(d.Genesis); err != nil {
		n.Shutdown()
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	d.Node = n

	return nil
}

func (d *Dagger) initService() error {
	if !d.Config.NoService {
		d.Service = service.NewService(d.Config.ServiceAddr, d.Node, d.logger)
	}
	return nil
}

// Keygen generates a new key and writes it to keyfile, unless a key already
// lives there.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyFile := keys.NewSimpleKeyfile(keyfile)

	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyFile.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// NewGenesis creates and signs the root transaction of a network. The key
// signs as the root's sender with nonce 1.
func NewGenesis(key *ecdsa.PrivateKey, allocations []ledger.Allocation, timestamp int64) (*ledger.Transaction, error) {
	tx, err := ledger.NewTransaction(
		nil,
		keys.FromPublicKey(&key.PublicKey),
		1,
		timestamp,
		ledger.Genesis{Allocations: allocations},
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Sign(key); err != nil {
		return nil, err
	}

	return tx, nil
}

// ReadGenesis parses a genesis file.
func ReadGenesis(path string) (*ledger.Transaction, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var jsonTx ledger.JSONTransaction
	if err := json.NewDecoder(bytes.NewReader(buf)).Decode(&jsonTx); err != nil {
		return nil, fmt.Errorf("decoding %s: %v", path, err)
	}

	tx, err := jsonTx.Transaction()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %v", path, err)
	}

	if !tx.IsRoot() {
		return nil, fmt.Errorf("%s: genesis transaction has parents", path)
	}

	return tx, nil
}

// WriteGenesis writes tx to path in its JSON form.
func WriteGenesis(path string, tx *ledger.Transaction) error {
	jsonTx, err := tx.ToJSON()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(jsonTx); err != nil {
		return err
	}

	return ioutil.WriteFile(path, buf.Bytes(), 0644)
}
