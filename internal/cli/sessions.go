package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/ai-educate/livetutor/pkg/gateway"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage tutoring sessions",
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove sessions idle for longer than store.retention",
	RunE:  runSessionsSweep,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live connections of a running gateway",
	Long: `List live connections of a running gateway.
Requires gateway.expose_sessions to be enabled.`,
	RunE: runSessionsList,
}

func init() {
	sessionsCmd.AddCommand(sessionsSweepCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsSweep(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	log := zerolog.Nop()
	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	sweeper, err := session.NewSweeper(store, cfg.Store.SweepSchedule, cfg.Store.Retention, &log)
	if err != nil {
		return err
	}

	removed, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	remaining, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s), %d remaining\n", removed, remaining)
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	sessions, err := fetchSessions(localAddr(cfg.Gateway.Host, cfg.Gateway.Port))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONN\tUSER\tSESSION\tSTATE\tAGE\tIDLE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			s.ConnID, s.UserID, s.SessionID, s.State,
			formatDuration(time.Since(s.ConnectedAt)), s.Idle)
	}
	return w.Flush()
}

func fetchSessions(addr string) ([]gateway.ConnectionInfo, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/sessions")
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s (is gateway.expose_sessions enabled?)", resp.Status)
	}

	var listing struct {
		Sessions []gateway.ConnectionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return listing.Sessions, nil
}
