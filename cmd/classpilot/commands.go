package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; "dev" otherwise.
var Version = "dev"

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "classpilot",
		Short:         "Conversational AI gateway for teachers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd(), buildCheckConfigCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the classpilot version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "classpilot", Version)
		},
	}
}

func buildCheckConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: provider=%s model=%s port=%d\n",
				cfg.Model.Provider, cfg.Model.DefaultModel, cfg.Server.Port)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// resolveConfigPath falls back to CLASSPILOT_CONFIG, then the conventional
// file name when it exists.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CLASSPILOT_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("classpilot.yaml"); err == nil {
		return "classpilot.yaml"
	}
	return ""
}
