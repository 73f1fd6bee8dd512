// Package cli implements the ipenforcer command line client.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	server  string
	output  string
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ipenforcer",
		Short:         "Report IP infringements of gallery artworks",
		Long:          `ipenforcer is a CLI for reporting unauthorized copies of protected artworks and raising disputes for arbitration.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ipenforcer.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "output format: text, json or yaml")

	rootCmd.AddCommand(createArtworksCmd())
	rootCmd.AddCommand(createReportCmd())
	rootCmd.AddCommand(createSessionCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env or config file
func getServer() string {
	if server != "" {
		return server
	}

	if env := os.Getenv("IPENFORCER_SERVER"); env != "" {
		return env
	}

	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	return "http://localhost:8080"
}

// getWallet returns the reporter wallet from env or config file
func getWallet() string {
	if env := os.Getenv("IPENFORCER_WALLET"); env != "" {
		return env
	}
	if config := loadProjectConfigSilent(); config != nil {
		return config.Wallet
	}
	return ""
}

// getOutput returns the output format from flag or config file
func getOutput() string {
	if output != "" {
		return output
	}
	if config := loadProjectConfigSilent(); config != nil && config.Output != "" {
		return config.Output
	}
	return formatText
}
