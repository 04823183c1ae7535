package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "guardctl %s\n", Version)
		},
	}
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect guardctl configuration",
		Long: `Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (GUARDIAN_*)
3. Config file (~/.guardian/config.yaml)
4. Defaults`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(a.errOut, "Configuration file: %s\n", used)
			} else {
				fmt.Fprintln(a.errOut, "No configuration file found (using defaults)")
			}
			data, err := yaml.Marshal(a.settings())
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	})
	return cmd
}
