package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// runSession limits the capabilities presented to the model to one session.
var runSession string

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run a bounded model conversation against the configured servers",
	Long: `Starts the configured servers, runs one conversation from the given
message, prints the final answer, and shuts the servers down again. The model
provider and iteration budget come from the configuration file.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	caller, err := buildCaller(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	h := buildHost(ctx, cfg, caller)
	defer h.Shutdown()

	result := h.RunConversation(ctx, args[0], runSession)
	if result.Err != nil {
		return fmt.Errorf("conversation failed (%s): %w", result.TerminationReason, result.Err)
	}

	fmt.Println(result.FinalText)
	if len(result.Invocations) > 0 {
		fmt.Printf("\n%d capability calls over %d iterations\n", len(result.Invocations), result.Iterations)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSession, "session", "", "Limit the capabilities presented to the model to one session")
}
