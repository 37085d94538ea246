package commands

import (
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

func init() {
	RootCmd.PersistentFlags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
}

//RootCmd is the root command for dagger
var RootCmd = &cobra.Command{
	Use:              "dagger",
	Short:            "dagger DAG ledger node",
	TraverseChildren: true,
}

// dataDir returns the --datadir flag of cmd or of one of its parents.
func dataDir(cmd *cobra.Command) string {
	if f := cmd.Flag("datadir"); f != nil {
		return f.Value.String()
	}
	return _config.DataDir
}
