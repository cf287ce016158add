package cmd

import (
	"fmt"
	"github.com/ValentinKolb/sgkv/cmd/perf"
	"github.com/ValentinKolb/sgkv/cmd/run"
	"github.com/ValentinKolb/sgkv/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sgkv",
		Short: "slot-aware object store with RCU conditions",
		Long: fmt.Sprintf(`sgkv (v%s)

A transient object store for concurrent event processing written in Go.
Objects are recorded per event slot and found by type and key, shared
conditions objects are updated with read-copy-update and reclaimed once
every slot passed a quiescent point.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sgkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sgkv v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(run.RunCmd)
	RootCmd.AddCommand(perf.PerfCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
