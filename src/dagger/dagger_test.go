package dagger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/peers"
)

func newTestConfig(t *testing.T, dir string) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(dir)
	conf.DatabaseDir = filepath.Join(dir, config.DefaultBadgerFile)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.Store = true
	return conf
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	keyfile := filepath.Join(dir, config.DefaultKeyfile)

	key, err := Keygen(keyfile)
	if err != nil {
		t.Fatal(err)
	}

	read, err := keys.NewSimpleKeyfile(keyfile).ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	if keys.PrivateKeyHex(read) != keys.PrivateKeyHex(key) {
		t.Fatalf("keyfile does not contain the generated key")
	}

	if _, err := Keygen(keyfile); err == nil {
		t.Fatalf("Keygen should not overwrite an existing key")
	}
}

func TestGenesisFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultGenesisFile)

	key, _ := keys.GenerateECDSAKey()
	other, _ := keys.GenerateECDSAKey()

	allocations := []ledger.Allocation{
		{Account: keys.FromPublicKey(&key.PublicKey), Amount: 600},
		{Account: keys.FromPublicKey(&other.PublicKey), Amount: 400},
	}

	genesis, err := NewGenesis(key, allocations, time.Now().UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	if err := WriteGenesis(path, genesis); err != nil {
		t.Fatal(err)
	}

	read, err := ReadGenesis(path)
	if err != nil {
		t.Fatal(err)
	}

	if read.Hash() != genesis.Hash() {
		t.Fatalf("genesis hash changed through the file")
	}
	if ok, err := read.Verify(); err != nil || !ok {
		t.Fatalf("genesis signature should verify: %v", err)
	}

	if _, err := ReadGenesis(filepath.Join(dir, "missing.json")); !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}

func TestInitAndReload(t *testing.T) {
	dir := t.TempDir()

	key, err := Keygen(filepath.Join(dir, config.DefaultKeyfile))
	if err != nil {
		t.Fatal(err)
	}
	pub := keys.FromPublicKey(&key.PublicKey)

	genesis, err := NewGenesis(key, []ledger.Allocation{{Account: pub, Amount: 1000}}, time.Now().UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteGenesis(filepath.Join(dir, config.DefaultGenesisFile), genesis); err != nil {
		t.Fatal(err)
	}

	engine := NewDagger(newTestConfig(t, dir))
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}

	if engine.Config.Key == nil {
		t.Fatalf("key should be loaded from the data directory")
	}
	if engine.Peers.Len() != 0 {
		t.Fatalf("no peers.json should mean no peers")
	}
	if bal := engine.Node.BalanceOf(pub); bal != 1000 {
		t.Fatalf("balance should be 1000, not %d", bal)
	}

	engine.Node.Shutdown()

	// the badger store keeps the graph
	engine = NewDagger(newTestConfig(t, dir))
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	if bal := engine.Node.BalanceOf(pub); bal != 1000 {
		t.Fatalf("reloaded balance should be 1000, not %d", bal)
	}
	engine.Node.Shutdown()

	// a different network cannot reuse the database
	other, err := NewGenesis(key, []ledger.Allocation{{Account: pub, Amount: 5}}, time.Now().UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	engine = NewDagger(newTestConfig(t, dir))
	engine.Genesis = other
	if err := engine.Init(); err == nil {
		engine.Node.Shutdown()
		t.Fatalf("Init should fail with a different genesis")
	}
}

func TestInitPeers(t *testing.T) {
	dir := t.TempDir()

	if _, err := Keygen(filepath.Join(dir, config.DefaultKeyfile)); err != nil {
		t.Fatal(err)
	}

	jsonPeerSet := peers.NewJSONPeerSet(dir)
	err := jsonPeerSet.Write([]*peers.Peer{
		peers.NewPeer("", "127.0.0.1:9990", "a"),
		peers.NewPeer("", "127.0.0.1:9991", "b"),
	})
	if err != nil {
		t.Fatal(err)
	}

	conf := newTestConfig(t, dir)
	conf.Store = false

	engine := NewDagger(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Node.Shutdown()

	if engine.Peers.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", engine.Peers.Len())
	}
	if len(engine.Node.GetPeers()) != 2 {
		t.Fatalf("node should sync with both peers")
	}
}
