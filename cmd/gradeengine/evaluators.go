package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/config"
)

func newEvaluatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluators",
		Short: "List the available evaluators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := application.NewEvaluatorRegistry()
			defaults := make(map[string]bool, len(config.DefaultEvaluators))
			for _, name := range config.DefaultEvaluators {
				defaults[name] = true
			}
			for _, name := range registry.SupportedTypes() {
				ev, err := registry.Create(name, nil)
				if err != nil {
					return err
				}
				marker := ""
				if defaults[name] {
					marker = " (default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-10s%s\n", name, ev.Kind(), marker)
			}
			return nil
		},
	}
}
