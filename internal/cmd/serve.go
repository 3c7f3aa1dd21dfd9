package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/steward/internal/orchestrator"
	"github.com/harrison/steward/internal/transport/lark"
)

// NewServeCommand creates the webhook server command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the messaging webhook bridge",
		Long: `Serve exposes the open-platform event webhook and answers chat
messages through the same orchestration engine the console uses. Reminders
are delivered to the configured chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	rt, err := newRuntime(configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	larkCfg := rt.cfg.Lark
	if strings.TrimSpace(larkCfg.AppID) == "" || strings.TrimSpace(larkCfg.AppSecret) == "" {
		return fmt.Errorf("lark.app_id and lark.app_secret are required (set STEWARD_LARK_APP_ID / STEWARD_LARK_APP_SECRET)")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := lark.NewClient(larkCfg.AppID, larkCfg.AppSecret, rt.cfg.LLM.Timeout)
	if larkCfg.APIBaseURL != "" {
		sender.BaseURL = larkCfg.APIBaseURL
	}

	// The bridge relays progress lines, but it needs the engine to submit
	// messages, so the listener closes over the not-yet-built bridge.
	var bridge *lark.Bridge
	listener := orchestrator.ListenerFunc(func(contextID, text string) {
		bridge.Listener().Progress(contextID, text)
	})
	engine := rt.newEngine(listener)
	bridge = lark.NewBridge(engine, sender, rt.log, larkCfg.VerificationToken)
	if larkCfg.ChunkSize > 0 {
		bridge.ChunkSize = larkCfg.ChunkSize
	}
	if larkCfg.DedupTTL > 0 {
		bridge.DedupTTL = larkCfg.DedupTTL
	}

	if refresher := rt.newProfileRefresh(engine); refresher != nil {
		go refresher.Run(ctx)
	}

	if larkCfg.ReminderChatID != "" {
		reminders := rt.newReminder(bridge.ReminderSink(larkCfg.ReminderChatID))
		go reminders.Run(ctx)
	} else {
		rt.log.Warnf("lark.reminder_chat_id not set, reminder delivery disabled")
	}

	return bridge.Start(ctx, larkCfg.ListenAddr)
}
