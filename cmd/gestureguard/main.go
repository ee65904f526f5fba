// gestureguard - behavioral anomaly detection for app sessions
//
// Gestures are stored per user and session. After enough sessions a
// per-user autoencoder is trained and live gestures are scored against it;
// anomalous behavior triggers a re-authentication prompt.
//
//	gestureguard serve              Run the HTTP API
//	gestureguard ingest <file>      Import JSON Lines gesture records
//	gestureguard train <user>       Train a user's profile now
//	gestureguard score <user>       Score JSON Lines records against a profile
//	gestureguard status [user]      Show stored state
//	gestureguard end-session <user> Count a completed session
//	gestureguard clear <user>       Delete everything stored for a user
//	gestureguard migrate status     Show the schema version
//	gestureguard init               Write a default config file
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gestureguard",
		Short:         "Behavioral anomaly detection for app sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (toml, json or yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEndSessionCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newInitCmd())

	return rootCmd
}
