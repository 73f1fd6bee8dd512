package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "ipenforcer.toml"

// ProjectConfig is the TOML configuration read from ipenforcer.toml
type ProjectConfig struct {
	Server string `toml:"server"`
	Wallet string `toml:"wallet,omitempty"`
	Output string `toml:"output,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var wallet string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create an ipenforcer.toml configuration file in the current directory.

EXAMPLES:
  # Create config with default server
  ipenforcer config init

  # Create config with a reward wallet
  ipenforcer config init --wallet 0x52908400098527886E0F7030069857D2E4169EE7
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = defaultConfigFile
			}
			return runConfigInit(cmd.OutOrStdout(), path, ProjectConfig{Server: serverURL, Wallet: wallet}, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address that receives dispute rewards")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(w io.Writer, path string, config ProjectConfig, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# ipenforcer client configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintf(w, "  Server: %s\n", config.Server)
	if config.Wallet != "" {
		fmt.Fprintf(w, "  Wallet: %s\n", config.Wallet)
	}
	return nil
}

func runConfigShow(w io.Writer) error {
	fmt.Fprintln(w, "Configuration sources (in order of precedence):")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Command line flags")
	fmt.Fprintln(w, "   --server, --output, --config")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "2. Environment variables")
	for _, name := range []string{"IPENFORCER_SERVER", "IPENFORCER_WALLET"} {
		if v := os.Getenv(name); v != "" {
			fmt.Fprintf(w, "   %s=%s\n", name, v)
		} else {
			fmt.Fprintf(w, "   %s=(not set)\n", name)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "3. Project config (%s)\n", defaultConfigFile)
	config, path, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	default:
		fmt.Fprintf(w, "   Loaded from: %s\n", path)
		if config.Server != "" {
			fmt.Fprintf(w, "   server: %s\n", config.Server)
		}
		if config.Wallet != "" {
			fmt.Fprintf(w, "   wallet: %s\n", config.Wallet)
		}
		if config.Output != "" {
			fmt.Fprintf(w, "   output: %s\n", config.Output)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "   Server: %s\n", getServer())
	if wallet := getWallet(); wallet != "" {
		fmt.Fprintf(w, "   Wallet: %s\n", wallet)
	} else {
		fmt.Fprintln(w, "   Wallet: (not set)")
	}
	fmt.Fprintf(w, "   Output: %s\n", getOutput())
	return nil
}

// loadProjectConfig loads the config named by --config, or ipenforcer.toml.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, path, fmt.Errorf("parsing TOML: %w", err)
	}
	return &config, path, nil
}

// loadProjectConfigSilent returns nil when the file is missing and warns on
// parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return nil
	}
	return config
}
