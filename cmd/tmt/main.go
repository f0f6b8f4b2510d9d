package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/tmt/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tmt",
	Short: "tmt - Test Management Tool orchestrator",
	Long: `tmt discovers tests and plans from a metadata tree, provisions
guests, and drives each plan through discover, provision, prepare,
execute, report and finish, reporting results as a documented exit
code.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tmt version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase output verbosity")
	rootCmd.PersistentFlags().CountP("debug", "d", "increase debug verbosity (implies --verbose)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress normal logging (errors still show)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	quiet, _ := rootCmd.PersistentFlags().GetBool("quiet")
	debug, _ := rootCmd.PersistentFlags().GetCount("debug")

	effective := log.Level(level)
	if debug > 0 {
		effective = log.DebugLevel
	}
	if quiet {
		effective = log.ErrorLevel
	}

	log.Init(log.Config{
		Level:      effective,
		JSONOutput: jsonOutput,
	})
}
