package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow state changes",
	Long: `Connect to the admin push endpoint and print every state change until
interrupted. The first update is the current state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watch(ctx, cmd.OutOrStdout())
	},
}

// eventsURL maps the admin base URL onto the websocket endpoint
func eventsURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid admin URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported admin URL scheme %q", u.Scheme)
	}
	u.Path += "/admin/events"
	return u.String(), nil
}

func watch(ctx context.Context, w io.Writer) error {
	target, err := eventsURL(adminURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	if adminToken != "" {
		header.Set("Authorization", "Bearer "+adminToken)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect failed (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	var (
		last uint64
		seen bool
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("server closed the connection: %d %s", closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("read failed: %w", err)
		}

		var vs api.VersionedState
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse update: %w", err)
		}
		if seen && vs.Version <= last {
			continue
		}
		last, seen = vs.Version, true

		if output == "json" {
			if err := printJSON(w, data); err != nil {
				return err
			}
			continue
		}
		printState(w, vs)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
