package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/voxhall/scribeq/config"
)

// ConfigCmd manages scheduler configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage scribeq configuration",
	Long: `Display and validate scribeq configuration.

Configuration sources (in order of precedence):
1. Environment variables (SCRIBEQ_* prefix)
2. Project config (./scribeq.toml, searched upward)
3. User config (~/.scribeq/config.toml)
4. System config (/etc/scribeq/config.toml)
5. Default values

Examples:
  scribeq config show                # Show effective configuration
  scribeq config show --format json  # Show configuration as JSON
  scribeq config set scheduler.max_processing_jobs 8
  scribeq config validate            # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value using dot notation and persist it.

The value is written to the project config file (./scribeq.toml,
searched upward) or, when none exists, to ~/.scribeq/config.toml.
The previous file is kept as a rotating backup. A running scheduler
watching the file picks the change up without a restart.

Examples:
  scribeq config set scheduler.max_processing_jobs 8
  scribeq config set scheduler.timeout_multiplier 1.5
  scribeq config set executor.image registry.example.com/scribe-worker:v4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigSet(args[0], args[1])
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runConfigValidate,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("unknown format %q (use toml or json)", configFormat)
	}

	return nil
}

func runConfigSet(key, value string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.SetKey(cfg, key, value); err != nil {
		return err
	}

	configPath := config.FindConfigPath()
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, ".scribeq", "config.toml")
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Set %s = %s (%s)\n", key, value, configPath)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	return nil
}
