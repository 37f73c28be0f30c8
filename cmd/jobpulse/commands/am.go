package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage jobpulse configuration",
	Long: sym.AM + ` am - Manage jobpulse configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/jobpulse/config.toml)
3. User config (~/.jobpulse/am.toml)
4. Project config (./am.toml, searched up the directory tree)
5. Environment variables (JOBPULSE_* prefix)

Examples:
  jobpulse am show                    # Show effective configuration
  jobpulse am show --format json      # Same, as JSON
  jobpulse am get pulse.workers       # Get a single value
  jobpulse am validate                # Validate and report unknown keys
  jobpulse am init                    # Write ~/.jobpulse/am.toml with defaults`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration from all sources. Secrets are masked.",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file holding every default value",
	RunE:  runAmInit,
}

var (
	configFormat string
	initPath     string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().Bool("defaults", false, "Show built-in defaults instead of the effective configuration")
	amInitCmd.Flags().StringVar(&initPath, "path", "", "Config file to write (default ~/.jobpulse/am.toml)")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (keeps .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	settings := am.RedactedSettings(am.GetViper())
	if defaults, _ := cmd.Flags().GetBool("defaults"); defaults {
		settings = am.DefaultSettings()
	}

	data, err := am.Render(settings, configFormat)
	if err != nil {
		return err
	}
	if configFormat != "json" {
		fmt.Println("# jobpulse configuration")
	}
	fmt.Print(string(data))
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q", key)
	}

	if redacted, ok := lookupSetting(am.RedactedSettings(v), key); ok {
		fmt.Println(redacted)
		return nil
	}
	fmt.Println(v.Get(key))
	return nil
}

// lookupSetting walks a nested settings map by dotted key
func lookupSetting(settings map[string]interface{}, key string) (interface{}, bool) {
	var current interface{} = settings
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	if path := am.ActiveConfigPath(); path != "" {
		unknown, err := am.UnknownKeys(path)
		if err != nil {
			return err
		}
		for _, key := range unknown {
			pterm.Warning.Printf("Unknown key %s in %s (ignored)\n", key, path)
		}
	}

	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	active := am.ActiveConfigPath()

	fmt.Println("Configuration cascade (later overrides earlier):")
	data := pterm.TableData{{"Source", "Path", "State"}}
	data = append(data, []string{"default", "built-in", pterm.Green("loaded")})
	for _, path := range am.ConfigPaths() {
		state := pterm.Gray("missing")
		if _, err := os.Stat(path); err == nil {
			state = pterm.Green("loaded")
		}
		if path == active {
			state += " (active)"
		}
		data = append(data, []string{"file", path, state})
	}
	data = append(data, []string{"env", "JOBPULSE_*", pterm.Green("loaded")})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to resolve home directory")
		}
		path = filepath.Join(home, ".jobpulse", "am.toml")
	}

	if err := am.WriteDefaultConfig(path, initForce); err != nil {
		return err
	}
	pterm.Success.Printf("%s Wrote %s\n", sym.AM, path)
	return nil
}
