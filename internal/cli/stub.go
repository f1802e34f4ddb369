package cli

import (
	"github.com/spf13/cobra"

	"github.com/medilink-health/medilink-cli/internal/stub"
)

var stubAddr string

func init() {
	stubCmd.Flags().StringVar(&stubAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(stubCmd)
}

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run the in-memory development backend",
	Long: `stub runs an in-memory MediLink backend for local development:
REST endpoints plus the realtime websocket, with the payment gate and
its recognition lag simulated. All state is lost on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stub.New(logger).Listen(stubAddr)
	},
}
