// Package agenthttp streams thread records over server-sent events.
package agenthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KamdynS/agentconsole/state"
)

// RecordsSinceGetter fetches thread records since a given sequence.
type RecordsSinceGetter func(ctx context.Context, threadID string, since int64) ([]*state.Record, error)

// StreamOptions tunes StreamRecords.
type StreamOptions struct {
	// LastEventID resumes after the given sequence number.
	LastEventID string
	// RunID ends the stream once that run's final record is sent. When empty the
	// stream ends once a poll's newest record completes a run.
	RunID             string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// StreamRecords streams thread records over SSE using the provided getter.
// - Respects Last-Event-ID for resume
// - Sends heartbeat comments ": ping" at the heartbeat interval (default 15s)
// - Polls for new records at the poll interval (default 500ms)
// - Emits "event: done" and returns after a run completes
func StreamRecords(ctx context.Context, w http.ResponseWriter, getSince RecordsSinceGetter, threadID string, opts StreamOptions) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var since int64
	if opts.LastEventID != "" {
		if v, err := strconv.ParseInt(opts.LastEventID, 10, 64); err == nil {
			since = v
		}
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	hb := time.NewTicker(heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			recs, err := getSince(ctx, threadID, since)
			if err != nil {
				return err
			}
			for i, rec := range recs {
				if rec.SequenceNum > since {
					since = rec.SequenceNum
				}
				b, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "id: %d\n", rec.SequenceNum)
				fmt.Fprintf(w, "event: record\n")
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()

				if !rec.RunComplete {
					continue
				}
				last := i == len(recs)-1
				if (opts.RunID != "" && rec.RunID == opts.RunID) || (opts.RunID == "" && last) {
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
					return nil
				}
			}
		case <-hb.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
