package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/drivesim/drivesim/sim"
	"github.com/drivesim/drivesim/sim/rpc"
)

var (
	batchFile   string // Path to the batch YAML (endpoints + scenarios)
	httpTimeout time.Duration
)

// runCmd executes a batch of rollouts against live service endpoints.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of rollouts against live service endpoints",
	Run: func(cmd *cobra.Command, args []string) {
		batch, err := LoadBatchConfig(batchFile)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		poolCfgs, err := batch.PoolConfigs()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		scenarios, err := batch.ScenarioConfigs()
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		client := rpc.NewClient(httpTimeout)
		pools := make(map[string]*sim.ReplicaPool, len(poolCfgs))
		for _, pc := range poolCfgs {
			pool, err := sim.NewReplicaPool(pc, client)
			if err != nil {
				logrus.Fatalf("endpoint %s: %v", pc.Service, err)
			}
			pools[pc.Service] = pool
		}
		orch, err := sim.NewRolloutOrchestrator(pools)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		// SIGINT/SIGTERM cancels the batch; in-flight rollouts abort and
		// their partial logs are kept.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		started := time.Now()
		report := orch.RunBatch(ctx, scenarios)
		fmt.Print(report)
		logrus.Infof("Batch finished in %s.", time.Since(started).Round(time.Millisecond))
		if report.Aborted() > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&batchFile, "batch", "batch.yaml", "Batch configuration file (endpoints and scenarios)")
	runCmd.Flags().DurationVar(&httpTimeout, "http-timeout", 60*time.Second, "Transport-level HTTP timeout backstop")
	rootCmd.AddCommand(runCmd)
}
