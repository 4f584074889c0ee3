// Package main implements gradeengine, the music difficulty grading server
// and its local command-line analyzer.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gradeengine",
		Short: "Estimate the difficulty grade of a score",
		Long: `gradeengine scores a piece of music against a target difficulty grade
along several dimensions (rhythm, range, meter, key and more) and estimates
the grade the piece actually plays at.

Configuration is read from the file given by --config, then overridden by
GRADER_-prefixed environment variables.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newAnalyzeCommand(&configPath))
	root.AddCommand(newEvaluatorsCommand())
	return root
}
