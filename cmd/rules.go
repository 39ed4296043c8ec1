package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vigil/rules"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the configured detection rules",
	}
	rulesCmd.AddCommand(newRulesListCmd())
	rulesCmd.AddCommand(newRulesValidateCmd())
	return rulesCmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every configured rule and its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFAMILY\tSEVERITY\tALERT TYPE\tTAGS")
			for _, rule := range rules.Candidates(cfg.Rules) {
				status := string(rule.Status())
				if err := rule.Validate(); err != nil {
					status = "invalid"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					rule.ID(),
					rule.Name(),
					status,
					rule.Family(),
					rule.BaseSeverity(),
					rule.AlertType(),
					strings.Join(rule.Tags(), ","))
			}
			return w.Flush()
		},
	}
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the rule configuration and report per-rule errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var invalid int
			for _, rule := range rules.Candidates(cfg.Rules) {
				if err := rule.Validate(); err != nil {
					invalid++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", rule.ID(), err)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d rule(s) failed validation", invalid)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all rules valid")
			return nil
		},
	}
}
