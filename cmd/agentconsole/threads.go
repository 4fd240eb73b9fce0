package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/server"
	"github.com/KamdynS/agentconsole/state"
)

// ThreadsCmd lists threads newest first.
// Usage: agentconsole threads --agent helper --since 2024-05-01
type ThreadsCmd struct {
	Agent string `short:"a" long:"agent" description:"filter by agent id"`
	User  string `short:"u" long:"user" description:"filter by user id"`
	Task  string `long:"task" description:"filter by task id"`
	Since string `long:"since" description:"created at or after (RFC3339 or YYYY-MM-DD)"`
	Until string `long:"until" description:"created at or before (RFC3339 or YYYY-MM-DD)"`
}

func (c *ThreadsCmd) Execute(_ []string) error {
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

	threads, err := a.store.ListThreads(ctx, c.filter())
	if err != nil {
		return err
	}
	writeThreads(os.Stdout, threads, time.Now())
	return nil
}

// filter reuses the API's query normalization so both surfaces agree on dates.
func (c *ThreadsCmd) filter() state.ThreadFilter {
	v := url.Values{}
	for key, val := range map[string]string{
		"agentId":      c.Agent,
		"userId":       c.User,
		"taskId":       c.Task,
		"createdStart": c.Since,
		"createdEnd":   c.Until,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	q, _ := server.ParseThreadQuery(v)
	return q.Filter()
}

func writeThreads(w io.Writer, threads []*state.Thread, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tUSER\tTASK\tCREATED")
	for _, th := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s ago\n", th.ID, th.AgentID, th.UserID, th.TaskID, render.TimeSince(th.Created, now))
	}
	tw.Flush()
}
