// Command coordinatorctl exercises the query coordinator as a standalone
// harness: it starts a gRPC status-report server for one Coordinator,
// starts N in-process mock workers on their own listeners, hands the
// Coordinator a schedule naming those workers, and drives it through
// Exec/Wait to completion, printing the resulting query summary.
//
// It exists for local testing and demos (SPEC_FULL §2.3); it is not a
// production worker-fleet launcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "coordinatorctl",
	Short: "Drive the query coordinator against an in-process mock worker pool",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
