package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harrison/steward/internal/orchestrator"
	"github.com/harrison/steward/internal/transport/console"
)

// NewChatCommand creates the interactive console command.
func NewChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive console session",
		Long: `Chat runs the assistant as a local line REPL:每行输入作为一次
请求提交，提醒在提示符之间插入显示。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), configPath)
		},
	}
}

func runChat(parent context.Context, configPath string) error {
	rt, err := newRuntime(configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		rt.log.Debugf("stdin is not a terminal, reading in pipe mode")
	}

	// The REPL prints progress lines, but it needs the engine to submit
	// input, so the listener closes over the not-yet-built REPL.
	var repl *console.REPL
	listener := orchestrator.ListenerFunc(func(contextID, text string) {
		repl.Listener().Progress(contextID, text)
	})
	engine := rt.newEngine(listener)
	repl = console.New(engine, rt.log, os.Stdin, os.Stdout)

	reminders := rt.newReminder(repl.ReminderSink())
	go reminders.Run(ctx)

	if refresher := rt.newProfileRefresh(engine); refresher != nil {
		go refresher.Run(ctx)
	}

	return repl.Run(ctx)
}
