package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

// noColor disables ANSI colour in CLI output.
var noColor bool

var rootCmd = &cobra.Command{
	Use:           "starcoach",
	Short:         "Practice behavioural interview answers and get STAR coaching",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flag, _ := cmd.Flags().GetBool("no-color"); flag || os.Getenv("NO_COLOR") != "" {
			noColor = true
			return
		}
		fd := os.Stderr.Fd()
		noColor = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable coloured output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(questionsCmd, attemptsCmd, analyzeCmd, resultCmd)
	rootCmd.AddCommand(dashboardCmd, progressCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
