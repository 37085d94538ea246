package commands

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/spf13/cobra"
)

var (
	serviceAddr string
	toFlag      string
	amountFlag  uint64
	dataFlag    string
	nonceFlag   uint64
	keyFlag     string
)

// NewTransferCmd produces a command that signs a transaction with the local
// key and submits it to a node's HTTP service.
func NewTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Sign and submit a transaction",
		Long: `Sign and submit a transaction.

With --to, the transaction transfers --amount to the recipient. Without it,
--data is recorded in a Data transaction. The parents are the node's current
tips and the nonce follows the sender's last nonce unless --nonce is given.`,
		RunE: transfer,
	}

	cmd.Flags().StringVar(&serviceAddr, "service", config.DefaultServiceAddr, "IP:Port of the node's HTTP service")
	cmd.Flags().StringVar(&toFlag, "to", "", "Recipient public key")
	cmd.Flags().Uint64Var(&amountFlag, "amount", 0, "Amount to transfer")
	cmd.Flags().StringVar(&dataFlag, "data", "", "Hex data of a Data transaction")
	cmd.Flags().Uint64Var(&nonceFlag, "nonce", 0, "Nonce (default last nonce + 1)")
	cmd.Flags().StringVar(&keyFlag, "key", "", "Private key file (default [datadir]/priv_key)")

	return cmd
}

func transfer(cmd *cobra.Command, args []string) error {
	if keyFlag == "" {
		keyFlag = filepath.Join(dataDir(cmd), config.DefaultKeyfile)
	}

	key, err := keys.NewSimpleKeyfile(keyFlag).ReadKey()
	if err != nil {
		return fmt.Errorf("Reading private key: %s", err)
	}

	payload, err := transferPayload()
	if err != nil {
		return err
	}

	client := &apiClient{
		base: "http://" + serviceAddr,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	tx, err := buildTransaction(client, key, payload, nonceFlag)
	if err != nil {
		return err
	}

	res, err := client.submit(tx)
	if err != nil {
		return err
	}

	if res.Error != "" {
		fmt.Printf("Transaction %s: %s\n", res.Hash, res.Error)
		return nil
	}

	fmt.Printf("Transaction %s accepted\n", res.Hash)

	return nil
}

func transferPayload() (ledger.Payload, error) {
	if toFlag != "" {
		recipient, err := common.DecodeFromString(toFlag)
		if err != nil {
			return nil, fmt.Errorf("recipient: %v", err)
		}
		return ledger.Transfer{Recipient: recipient, Amount: amountFlag}, nil
	}

	var data []byte
	if dataFlag != "" {
		var err error
		data, err = common.DecodeFromString(dataFlag)
		if err != nil {
			return nil, fmt.Errorf("data: %v", err)
		}
	}
	return ledger.Data{Bytes: data}, nil
}

// buildTransaction approves the node's tips. A zero nonce is replaced by the
// sender's next nonce.
func buildTransaction(client *apiClient, key *ecdsa.PrivateKey, payload ledger.Payload, nonce uint64) (*ledger.Transaction, error) {
	sender := keys.FromPublicKey(&key.PublicKey)

	if nonce == 0 {
		last, err := client.nonce(sender)
		if err != nil {
			return nil, err
		}
		nonce = last + 1
	}

	tips, err := client.tips()
	if err != nil {
		return nil, err
	}

	tx, err := ledger.NewTransaction(tips, sender, nonce, time.Now().UnixNano(), payload)
	if err != nil {
		return nil, err
	}

	if err := tx.Sign(key); err != nil {
		return nil, err
	}

	return tx, nil
}

// submitResult mirrors the response of POST /tx.
type submitResult struct {
	Hash  string `json:"hash"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) get(path string, v interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, bytes.TrimSpace(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *apiClient) tips() ([]ledger.Hash, error) {
	var tips []ledger.Hash
	if err := c.get("/tips", &tips); err != nil {
		return nil, err
	}
	if len(tips) > ledger.DefaultMaxParents {
		tips = tips[:ledger.DefaultMaxParents]
	}
	return tips, nil
}

func (c *apiClient) nonce(pub []byte) (uint64, error) {
	var balance struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.get("/balance/"+common.EncodeToString(pub), &balance); err != nil {
		return 0, err
	}
	return balance.Nonce, nil
}

func (c *apiClient) submit(tx *ledger.Transaction) (*submitResult, error) {
	jsonTx, err := tx.ToJSON()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(jsonTx); err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.base+"/tx", "application/json", &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusUnprocessableEntity:
	default:
		body, _ := ioutil.ReadAll(resp.Body)
		return nil, fmt.Errorf("POST /tx: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var res submitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}

	return &res, nil
}
