package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/dagger"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/spf13/cobra"
)

var (
	allocFlags  []string
	genesisFile string
)

// NewGenesisCmd produces a command that creates and signs the root
// transaction of a new network.
func NewGenesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Create a signed genesis.json",
		Long: `Create a signed genesis.json.

The root transaction is signed with the key in [datadir]/priv_key. Every
--alloc flag credits an account:

  dagger genesis --alloc 0X04AB...:1000 --alloc 0X04CD...:500

The same genesis.json must be copied to the data directory of every node.`,
		RunE: genesis,
	}

	cmd.Flags().StringSliceVar(&allocFlags, "alloc", nil, "Allocation as pubkey:amount, repeatable")
	cmd.Flags().StringVar(&genesisFile, "out", "", "Output file (default [datadir]/genesis.json)")

	return cmd
}

func genesis(cmd *cobra.Command, args []string) error {
	dir := dataDir(cmd)
	if genesisFile == "" {
		genesisFile = filepath.Join(dir, config.DefaultGenesisFile)
	}

	allocations, err := parseAllocations(allocFlags)
	if err != nil {
		return err
	}

	key, err := keys.NewSimpleKeyfile(filepath.Join(dir, config.DefaultKeyfile)).ReadKey()
	if err != nil {
		return fmt.Errorf("Reading private key: %s", err)
	}

	tx, err := dagger.NewGenesis(key, allocations, time.Now().UnixNano())
	if err != nil {
		return err
	}

	if err := dagger.WriteGenesis(genesisFile, tx); err != nil {
		return fmt.Errorf("Writing genesis: %s", err)
	}

	fmt.Printf("Genesis %s has been saved to: %s\n", tx.Hex(), genesisFile)

	return nil
}

func parseAllocations(flags []string) ([]ledger.Allocation, error) {
	res := make([]ledger.Allocation, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("allocation %q should be pubkey:amount", f)
		}

		account, err := common.DecodeFromString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("allocation %q: %v", f, err)
		}

		amount, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("allocation %q: %v", f, err)
		}

		res = append(res, ledger.Allocation{Account: account, Amount: amount})
	}
	return res, nil
}
