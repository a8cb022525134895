package main

import (
	"fmt"

	"hotswap/internal/config"

	"github.com/spf13/cobra"
)

var checkConfigFile string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Long:  `Load hotswap.yaml with environment overrides applied and report every problem and warning.`,
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkConfigFile, "config", "c", "", "Path to hotswap.yaml")
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path, err := config.Find(checkConfigFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if config.IsValidation(err) {
		fmt.Fprintln(out, err)
		return fmt.Errorf("configuration is invalid")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Configuration OK: %s\n", cfg.Source)
	fmt.Fprintf(out, "  Mode:     %s\n", cfg.Mode)
	fmt.Fprintf(out, "  Workdir:  %s\n", cfg.Workdir)
	fmt.Fprintf(out, "  Output:   %s\n", cfg.OutputPath())
	if cfg.Branch != "" {
		fmt.Fprintf(out, "  Branch:   %s\n", cfg.Branch)
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return nil
}
