// Package console runs the local line REPL: one conversation context reading
// from stdin, with reminder deliveries interleaved between prompts.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/orchestrator"
	"github.com/harrison/steward/internal/reminder"
)

const prompt = "你> "

// ContextID is the conversation context the console session submits under.
const ContextID = "console"

var exitWords = map[string]bool{"exit": true, "quit": true}

// Submitter is the engine surface the REPL needs.
type Submitter interface {
	Submit(ctx context.Context, contextID, text string) orchestrator.Result
}

// REPL reads lines, submits them to the engine, and prints replies. All
// writes go through one mutex so reminder lines never tear a prompt apart.
type REPL struct {
	engine Submitter
	log    *logger.ConsoleLogger
	in     io.Reader
	out    io.Writer

	writeMu sync.Mutex
}

// New creates a REPL over the given streams.
func New(engine Submitter, log *logger.ConsoleLogger, in io.Reader, out io.Writer) *REPL {
	return &REPL{engine: engine, log: log, in: in, out: out}
}

// ReminderSink returns a sink that interleaves reminder deliveries with the
// prompt, the way a second speaker would interject.
func (r *REPL) ReminderSink() reminder.Sink {
	return reminder.SinkFunc(func(event reminder.Event) error {
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
		_, err := fmt.Fprintf(r.out, "\n提醒> %s\n%s", event.Content, prompt)
		return err
	})
}

// Listener prints orchestration progress lines while a task runs.
func (r *REPL) Listener() orchestrator.EventListener {
	return orchestrator.ListenerFunc(func(contextID, text string) {
		r.writeLine("… " + text)
	})
}

// Run reads until EOF, an exit word, or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	r.writeLine("steward 已启动。输入 exit 退出，输入 取消当前任务 终止进行中的任务。")
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		r.write(prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitWords[strings.ToLower(line)] {
			r.writeLine("再见。")
			return nil
		}

		result := r.engine.Submit(ctx, ContextID, line)
		r.writeLine(result.Text)
	}
}

func (r *REPL) write(text string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	fmt.Fprint(r.out, text)
}

func (r *REPL) writeLine(text string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	fmt.Fprintln(r.out, text)
}
