package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/finchdb/finch/cmd/bench"
)

const (
	Version = "0.3.1"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "finch",
		Short: "sharded in-memory key-value datastore engine",
		Long: fmt.Sprintf(`finch (v%s)

A sharded, in-memory key-value datastore engine with compact value
encoding, per-shard cooperative execution and tiered storage for cold
values.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of finch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("finch v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
