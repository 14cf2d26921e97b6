package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage settings",
	Long:  `Commands for reading and replacing the relay settings.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings",
	Long:  `Print the current settings as JSON, including the password and secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/admin/state", nil)
		if err != nil {
			return err
		}

		var vs api.VersionedState
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		settings, err := json.Marshal(vs.State.Settings)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), settings)
	},
}

var settingsSetFile string

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the settings",
	Long: `Replace the settings with the contents of a JSON file. Comments and
trailing commas are allowed. Use "-f -" to read from standard input.

Changing ports or certificates restarts the affected listeners. Disabling
a language disconnects its interpreter and listeners.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if settingsSetFile == "" {
			return fmt.Errorf("--file is required")
		}

		raw, err := readInput(cmd.InOrStdin(), settingsSetFile)
		if err != nil {
			return err
		}

		var settings domain.Settings
		if err := json.Unmarshal(jsonc.ToJSON(raw), &settings); err != nil {
			return fmt.Errorf("failed to parse settings: %w", err)
		}
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}

		client := NewClient(adminURL, adminToken)
		data, err := client.Request("PUT", "/admin/settings", &settings)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var vs api.VersionedState
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings updated.")
		printState(cmd.OutOrStdout(), vs)
		return nil
	},
}

var settingsResetConfirm bool

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the settings to defaults",
	Long: `Replace the settings with defaults. A new interpreter password and
session secret are generated, so every interpreter is logged out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !settingsResetConfirm {
			return fmt.Errorf("refusing to reset without --yes")
		}

		client := NewClient(adminURL, adminToken)
		data, err := client.Request("POST", "/admin/settings/reset", nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var vs api.VersionedState
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings reset to defaults.")
		if vs.State.Settings != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Interpreter password: %s\n", vs.State.Settings.InterpreterPassword)
		}
		return nil
	},
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)

	settingsSetCmd.Flags().StringVarP(&settingsSetFile, "file", "f", "", "Settings JSON file (- for stdin)")
	settingsResetCmd.Flags().BoolVar(&settingsResetConfirm, "yes", false, "Confirm the reset")
}
