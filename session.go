package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagate-io/wagate/internal/tokenfile"
	"github.com/wagate-io/wagate/internal/wasession"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage WhatsApp device-link sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "connect <session-id>",
		Short: "Show the pairing QR code and wait until the phone is linked",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionConnect,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <session-id>",
		Short: "Fetch the current status of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionStatus,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions seen by this machine",
		Args:  cobra.NoArgs,
		RunE:  runSessionList,
	})

	return cmd
}

func runSessionConnect(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	sessionID := args[0]

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// A login in another terminal while we wait should not strand this one.
	if err := tokenfile.Watch(ctx, s.tokenPath, logger, func() {
		if err := s.ReloadTokens(); err != nil {
			logger.Warn("reloading tokens", slog.String("error", err.Error()))
		}
	}); err != nil {
		logger.Warn("token file watch unavailable", slog.String("error", err.Error()))
	}

	poller := wasession.NewPoller(s.Client, cmd.OutOrStdout(), logger,
		wasession.WithInterval(resolvedCfg.PollInterval),
		wasession.WithTimeout(resolvedCfg.QRTimeout),
		wasession.WithRecorder(s.Store),
		wasession.WithStatusCallback(func(status string) {
			statusf("Session %s: %s\n", sessionID, status)
		}),
	)

	res, err := poller.Connect(ctx, sessionID)
	if err != nil {
		return finishCommand(s, err)
	}

	if flagJSON {
		return finishCommand(s, printJSON(cmd.OutOrStdout(), res))
	}

	statusf("Device linked to session %s.\n", sessionID)

	return finishCommand(s, nil)
}

// sessionStatusOutput is the JSON schema for `session status --json`.
type sessionStatusOutput struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()
	sessionID := args[0]

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	var st struct {
		Status string `json:"status"`
	}

	if err := s.Client.Get(ctx, wasession.StatusPath(sessionID), &st); err != nil {
		return finishCommand(s, err)
	}

	if err := s.Store.RecordLinkStatus(ctx, sessionID, st.Status); err != nil {
		logger.Warn("recording link status", slog.String("error", err.Error()))
	}

	out := sessionStatusOutput{SessionID: sessionID, Status: st.Status}

	if ls, err := s.Store.LinkSession(ctx, sessionID); err == nil && ls != nil && !ls.ConnectedAt.IsZero() {
		out.ConnectedAt = &ls.ConnectedAt
	}

	if flagJSON {
		return finishCommand(s, printJSON(cmd.OutOrStdout(), out))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", sessionID, st.Status)

	return finishCommand(s, nil)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	sessions, err := s.Store.LinkSessions(cmd.Context())
	if err != nil {
		return finishCommand(s, err)
	}

	if flagJSON {
		return finishCommand(s, printJSON(cmd.OutOrStdout(), sessions))
	}

	if len(sessions) == 0 {
		statusf("No sessions recorded yet. Run 'wagate session connect <id>'.\n")
		return finishCommand(s, nil)
	}

	rows := make([][]string, 0, len(sessions))
	for _, ls := range sessions {
		rows = append(rows, []string{ls.ID, ls.Status, formatTime(ls.ConnectedAt), formatTime(ls.UpdatedAt)})
	}

	printTable(cmd.OutOrStdout(), []string{"SESSION", "STATUS", "CONNECTED", "UPDATED"}, rows)

	return finishCommand(s, nil)
}
