package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
)

func TestParseAllocations(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	pub := keys.PublicKeyHex(&key.PublicKey)

	allocs, err := parseAllocations([]string{pub + ":1000"})
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 1 || allocs[0].Amount != 1000 {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	if common.EncodeToString(allocs[0].Account) != pub {
		t.Fatalf("account should be %s", pub)
	}

	for _, bad := range []string{"nocolon", "0XZZ:10", pub + ":-1"} {
		if _, err := parseAllocations([]string{bad}); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestBuildTransaction(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	sender := keys.FromPublicKey(&key.PublicKey)

	tip := ledger.Hash{1, 2, 3}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tips":
			json.NewEncoder(w).Encode([]ledger.Hash{tip})
		case strings.HasPrefix(r.URL.Path, "/balance/"):
			json.NewEncoder(w).Encode(map[string]uint64{"balance": 10, "nonce": 4})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := &apiClient{
		base: server.URL,
		http: &http.Client{Timeout: time.Second},
	}

	tx, err := buildTransaction(client, key, ledger.Data{Bytes: []byte("x")}, 0)
	if err != nil {
		t.Fatal(err)
	}

	if tx.Nonce() != 5 {
		t.Fatalf("nonce should follow the last nonce, got %d", tx.Nonce())
	}
	if parents := tx.Parents(); len(parents) != 1 || parents[0] != tip {
		t.Fatalf("parents should be the node's tips, got %v", parents)
	}
	if string(tx.Sender()) != string(sender) {
		t.Fatalf("sender should be the local key")
	}
	if ok, err := tx.Verify(); err != nil || !ok {
		t.Fatalf("transaction should be signed: %v", err)
	}

	tx, err = buildTransaction(client, key, ledger.Data{}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Nonce() != 42 {
		t.Fatalf("explicit nonce should be kept, got %d", tx.Nonce())
	}
}
