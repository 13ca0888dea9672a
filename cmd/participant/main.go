package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "participant",
	Short: "Headless interview room participant",
	Long: `participant joins a syncroom interview room through the signaling relay,
negotiates media with every other member and takes part in the shared
whiteboard, editor and view.

Commands are read from stdin, one per line (see "participant join --help").`,
}

var configPath string

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config")

	rootCmd.AddCommand(joinCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
