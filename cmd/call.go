package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"conductor/internal/registry"
	"conductor/internal/router"

	"github.com/spf13/cobra"
)

// callArgs carries the JSON-encoded arguments for the invocation.
var callArgs string

// callKind selects which registry the name is resolved against.
var callKind string

var callCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Invoke a single capability without a conversation",
	Long: `Starts the configured servers, routes one capability call, prints the
normalized result, and shuts the servers down again. For resources, name is
the resource URI.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	name := args[0]

	var callArguments map[string]interface{}
	if callArgs != "" {
		if err := json.Unmarshal([]byte(callArgs), &callArguments); err != nil {
			return fmt.Errorf("invalid --args: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	h := buildHost(ctx, cfg, nil)
	defer h.Shutdown()

	var result *registry.Result
	switch router.Kind(callKind) {
	case router.KindAction:
		result, err = h.InvokeCapability(ctx, name, callArguments)
	case router.KindPrompt:
		result, err = h.RenderPrompt(ctx, name, callArguments)
	case router.KindResource:
		result, err = h.FetchResource(ctx, name)
	default:
		return fmt.Errorf("unknown capability kind %q (expected action, prompt or resource)", callKind)
	}
	if err != nil {
		return err
	}

	if result.IsError {
		return fmt.Errorf("capability reported an error: %s", result.Content)
	}
	fmt.Println(result.Content)
	return nil
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callArgs, "args", "", "Invocation arguments as a JSON object")
	callCmd.Flags().StringVar(&callKind, "kind", string(router.KindAction), "Capability kind: action, prompt or resource")
}
