package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scanhub",
	Short: "Synchronization hub for distributed scan stations",
	Long: `scanhub keeps distributed scan stations synchronized about a student
roster and the live status updates each station produces.

Stations connect over a WebSocket endpoint, register with a name, role and
optional shared token, and exchange roster snapshots and student status
updates. Roster uploads and read-only queries go through the HTTP API.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
