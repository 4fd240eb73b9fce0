package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/KamdynS/agentconsole/chatevent"
	"github.com/KamdynS/agentconsole/config"
	"github.com/KamdynS/agentconsole/queue"
	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/state"
)

// InvokeCmd runs one agent turn synchronously and prints the combined messages.
// Usage: agentconsole invoke --agent helper "what time is it?"
type InvokeCmd struct {
	Agent  string `short:"a" long:"agent" description:"agent id, used when creating a thread"`
	Thread string `short:"t" long:"thread" description:"continue an existing thread"`
	User   string `short:"u" long:"user" description:"user id for a new thread"`
	Task   string `long:"task" description:"task id for a new thread"`
	Async  bool   `long:"async" description:"queue the run for a serve process instead of running it here"`
	Quiet  bool   `short:"q" long:"quiet" description:"print only the final output"`
}

func (c *InvokeCmd) Execute(args []string) error {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" {
		return errors.New("input is required")
	}
	if c.Thread == "" && c.Agent == "" {
		return errors.New("either --agent or --thread is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.startRunner(); err != nil {
		return err
	}

	threadID := c.Thread
	if threadID == "" {
		th, err := a.runner.CreateThread(ctx, state.Thread{AgentID: c.Agent, UserID: c.User, TaskID: c.Task})
		if err != nil {
			return err
		}
		threadID = th.ID
		fmt.Fprintf(os.Stderr, "thread %s\n", threadID)
	}

	if c.Async {
		return c.enqueue(ctx, a, threadID, input)
	}

	run, err := a.runner.Invoke(ctx, threadID, input)
	if err != nil {
		return err
	}
	if c.Quiet {
		fmt.Fprintln(os.Stdout, run.Output)
		if run.State == state.RunError {
			return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
		}
		return nil
	}
	events, err := a.runner.RunMessages(ctx, run)
	if err != nil {
		return err
	}
	writeMessages(os.Stdout, events)
	fmt.Fprintf(os.Stderr, "run %s %s in %s\n", run.ID, run.State, run.Duration().Round(time.Millisecond))
	if run.State == state.RunError {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}

// enqueue starts the run and hands it to the shared queue. An in-memory queue
// dies with this process, so it is refused.
func (c *InvokeCmd) enqueue(ctx context.Context, a *app, threadID, input string) error {
	if a.cfg.Queue.Kind == config.KindMemory {
		return errors.New("--async needs a redis or sqs queue")
	}
	run, err := a.runner.Start(ctx, threadID, input)
	if err != nil {
		return err
	}
	if err := a.queue.Enqueue(ctx, a.cfg.Queue.Name, queue.NewChatRunTask(threadID, run.ID, input)); err != nil {
		err = fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
		if ferr := a.runner.Fail(ctx, run.ID, err); ferr != nil {
			log.Printf("[CLI] Failed to record enqueue failure for run %s: %v", run.ID, ferr)
		}
		return err
	}
	fmt.Fprintln(os.Stdout, run.ID)
	return nil
}

// writeMessages prints combined events one block per line group.
func writeMessages(w io.Writer, events []chatevent.ChatEvent) {
	for _, ev := range chatevent.Combine(events) {
		if ev.Input != "" {
			fmt.Fprintf(w, "> %s\n", ev.Input)
		}
		if ev.ToolCall != nil {
			fmt.Fprintf(w, "[tool] %s\n", render.ToolLine(ev.ToolCall))
		}
		if ev.Error != "" {
			fmt.Fprintf(w, "error: %s\n", ev.Error)
		}
		if ev.Content != "" {
			fmt.Fprintln(w, ev.Content)
		}
	}
}
