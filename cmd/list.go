package cmd

import (
	"context"
	"fmt"
	"os"

	"conductor/internal/router"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// listSession restricts the listing to one session.
var listSession string

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List capabilities offered by the configured servers",
	Long: `Starts the configured servers, prints the capabilities they advertise, and
shuts them down again. kind is one of action, prompt or resource; omitting it
lists all three.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	kinds := router.Kinds
	if len(args) == 1 {
		kind := router.Kind(args[0])
		if !validListKind(kind) {
			return fmt.Errorf("unknown capability kind %q (expected action, prompt or resource)", args[0])
		}
		kinds = []router.Kind{kind}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	h := buildHost(context.Background(), cfg, nil)
	defer h.Shutdown()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"KIND", "NAME", "SESSION", "WEIGHT", "DESCRIPTION"})

	total := 0
	for _, kind := range kinds {
		for _, rec := range h.ListCapabilities(kind, listSession) {
			t.AppendRow(table.Row{string(rec.Kind), rec.Name, rec.SessionID, fmt.Sprintf("%.1f", rec.Weight), rec.Description})
			total++
		}
	}

	if total == 0 {
		fmt.Println("No capabilities registered")
		return nil
	}
	t.Render()
	return nil
}

func validListKind(kind router.Kind) bool {
	for _, k := range router.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listSession, "session", "", "Restrict the listing to one session")
}
