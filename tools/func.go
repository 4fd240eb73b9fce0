package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Parameters      map[string]interface{}
	Fn              func(ctx context.Context, input string) (string, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.ToolDescription }

func (f *Func) Schema() map[string]interface{} {
	if f.Parameters == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return f.Parameters
}

func (f *Func) Execute(ctx context.Context, input string) (string, error) {
	if f.Fn == nil {
		return "", fmt.Errorf("tool %s has no implementation", f.ToolName)
	}
	return f.Fn(ctx, input)
}

// NewTimeTool returns the built-in "time" tool. It reports the current time
// in RFC3339, in UTC unless the input names an IANA zone as {"timezone": "..."}.
func NewTimeTool(now func() time.Time) *Func {
	if now == nil {
		now = time.Now
	}
	return &Func{
		ToolName:        "time",
		ToolDescription: "Returns the current date and time.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{"type": "string", "description": "IANA time zone, defaults to UTC"},
			},
		},
		Fn: func(ctx context.Context, input string) (string, error) {
			var args struct {
				Timezone string `json:"timezone"`
			}
			if input != "" {
				if err := json.Unmarshal([]byte(input), &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			loc := time.UTC
			if args.Timezone != "" {
				l, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", args.Timezone)
				}
				loc = l
			}
			return now().In(loc).Format(time.RFC3339), nil
		},
	}
}
