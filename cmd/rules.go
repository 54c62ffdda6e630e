// File: cmd/rules.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
	"github.com/xkilldash9x/sinkscan/internal/config"
)

// newRulesCmd creates the `rules` command, which lists the registered rules.
func newRulesCmd() *cobra.Command {
	var verbose bool

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Lists the detection rules and whether the configuration enables them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return listRules(cmd.OutOrStdout(), cfg, verbose)
		},
	}
	rulesCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include descriptions and remediation advice")
	return rulesCmd
}

func listRules(out io.Writer, cfg config.Interface, verbose bool) error {
	registry := rules.Default(javascript.NewSanitizerSet(cfg.Scanner().Sanitizers))
	enabled := cfg.Rules().Enabled()
	var disabled []string
	for id := range enabled {
		disabled = append(disabled, id)
	}
	if unknown := registry.Unknown(disabled); len(unknown) > 0 {
		return fmt.Errorf("unknown rule ids in rules.disabled: %v", unknown)
	}
	active := make(map[string]bool)
	for _, rule := range registry.Active(enabled) {
		active[rule.ID()] = true
	}

	for _, meta := range rules.Catalog(registry.All()) {
		state := "enabled"
		if !active[meta.ID] {
			state = "disabled"
		}
		fmt.Fprintf(out, "%-26s  %-8s  %-8s  %s\n", meta.ID, meta.Severity, state, meta.Name)
		if verbose {
			fmt.Fprintf(out, "    %s\n", meta.Description)
			if meta.CWE != "" {
				fmt.Fprintf(out, "    %s\n", meta.CWE)
			}
			fmt.Fprintf(out, "    Fix: %s\n", meta.Remediation)
		}
	}
	return nil
}
