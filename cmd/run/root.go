package run

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/sgkv/cmd/util"
	"github.com/ValentinKolb/sgkv/lib/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dc0d/onexit"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"os"
)

var (
	runCmdConfig = &common.Config{}
	RunCmd       = &cobra.Command{
		Use:   "run",
		Short: "Run a simulated multi-slot event loop",
		Long: `Run a simulated event loop. Events are processed concurrently, one per slot. Each event records its data in the event store of its slot, reads the detector store and the current conditions and clears its slot store at the end.
While events are in flight new conditions versions are published and old versions are reclaimed once every slot passed a quiescent point.
The configuration can be set via command line flags or environment variables. The format of the environment variables is SGKV_<flag> (e.g. SGKV_UPDATE_EVERY=10)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	cmdUtil.SetupEventLoopFlags(RunCmd)

	key := "dump"
	RunCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the content of the event store before the last event is cleared"))

	key = "metrics"
	RunCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print all metrics in Prometheus text format after the run"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	runCmdConfig = cmdUtil.GetConfig()
	runCmdConfig.RunID = uuid.NewString()
	return runCmdConfig.Validate()
}

func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(runCmdConfig.LogLevel); err != nil {
		return err
	}

	fmt.Println("Configuration:")
	fmt.Println(runCmdConfig.String())

	loop, err := newEventLoop(runCmdConfig)
	if err != nil {
		return err
	}
	defer loop.Close()

	// interrupted runs still tear down the stores
	onexit.Register(func() {
		_ = loop.Finalize(nil)
	})

	report, runErr := loop.Run()
	if err := loop.Finalize(report); err != nil {
		log.Errorf("finalization failed: %v", err)
	}

	if runCmdConfig.Dump && report.Dump != "" {
		fmt.Println()
		fmt.Println(report.Dump)
	}
	fmt.Println(report.String())

	if runCmdConfig.Metrics {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, true)
	}
	return runErr
}
