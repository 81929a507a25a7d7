package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/drivesim/drivesim/sim"
)

var strictComplete bool

// replayCmd verifies a recorded rollout log against the current engine.
var replayCmd = &cobra.Command{
	Use:   "replay <log-file>",
	Short: "Replay a recorded rollout and verify the request trace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := sim.NewReplayEngine(args[0])
		report, err := engine.Replay(context.Background())
		if err != nil {
			logrus.Fatalf("replay failed: %v", err)
		}
		fmt.Print(report)
		fmt.Println()
		if strictComplete && !report.Complete {
			logrus.Errorf("recording %s lacks the completion sentinel (crashed or aborted rollout)", args[0])
			os.Exit(1)
		}
		if !report.Passed() {
			os.Exit(1)
		}
	},
}

func init() {
	replayCmd.Flags().BoolVar(&strictComplete, "strict-complete", false, "Fail when the recording lacks the completion sentinel")
	rootCmd.AddCommand(replayCmd)
}
