package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the live state",
	Long:  `Show the server status and the connections of every enabled language.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/admin/state", nil)
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
		printState(cmd.OutOrStdout(), vs)
		return nil
	},
}

// printState prints the server status followed by one row per language
func printState(w io.Writer, vs api.VersionedState) {
	live := vs.State.Live
	fmt.Fprintf(w, "Version: %d\n", vs.Version)
	if live.LocalIPAddress != "" {
		fmt.Fprintf(w, "Address: %s\n", live.LocalIPAddress)
	}
	if live.Domain != "" {
		fmt.Fprintf(w, "Domain:  %s\n", live.Domain)
	}
	fmt.Fprintln(w)

	serverRows := make([][]string, 0, len(domain.Protocols))
	for _, p := range domain.Protocols {
		s := live.Server[p]
		port := ""
		if s.Port != 0 {
			port = strconv.Itoa(s.Port)
		}
		serverRows = append(serverRows, []string{string(p), string(s.Status), port, s.Message})
	}
	printTable(w, []string{"PROTOCOL", "STATUS", "PORT", "MESSAGE"}, serverRows)
	fmt.Fprintln(w)

	if vs.State.Settings == nil {
		return
	}
	var rows [][]string
	for _, l := range vs.State.Settings.Languages {
		ls, ok := live.Languages[l.ID]
		if !ok {
			continue
		}
		interpreter := "-"
		if ls.InterpreterSocketID != "" {
			interpreter = ls.InterpreterSocketID
		}
		rows = append(rows, []string{
			l.ID,
			l.Name,
			interpreter,
			strconv.Itoa(len(ls.Listeners)),
			strconv.Itoa(ls.ListenerConnectCount),
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No enabled languages.")
		return
	}
	printTable(w, []string{"ID", "NAME", "INTERPRETER", "LISTENERS", "TOTAL LISTENS"}, rows)
}

var logoutAllCmd = &cobra.Command{
	Use:   "logout-all",
	Short: "Log out every interpreter",
	Long: `Rotate the session secret. Every interpreter session becomes invalid
and interpreters must log in again with the password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("POST", "/admin/settings/rotate-secret", nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session secret rotated, all interpreters logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(logoutAllCmd)
}
