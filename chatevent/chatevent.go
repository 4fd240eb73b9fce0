// Package chatevent defines the incremental chat event emitted while an agent
// run streams, and the coalescing pass that turns a raw event log into
// display-ready message blocks.
package chatevent

// ToolInput carries the partial arguments a model is producing for a tool.
type ToolInput struct {
	InternalToolName string `json:"internalToolName"`
	Content          string `json:"content"`
}

// ToolCallMetadata holds presentation hints for a tool call.
type ToolCallMetadata struct {
	Category string `json:"category,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// ToolCall describes a completed tool invocation.
type ToolCall struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Input       string            `json:"input"`
	Metadata    *ToolCallMetadata `json:"metadata,omitempty"`
}

// ChatEvent is one incremental unit of a chat stream.
type ChatEvent struct {
	Content        string     `json:"content"`
	Input          string     `json:"input,omitempty"`
	ContentID      string     `json:"contentID,omitempty"`
	Error          string     `json:"error,omitempty"`
	RunID          string     `json:"runID"`
	WaitingOnModel bool       `json:"waitingOnModel,omitempty"`
	ToolInput      *ToolInput `json:"toolInput,omitempty"`
	ToolCall       *ToolCall  `json:"toolCall,omitempty"`
}

// IsBoundary reports whether the event ends any content block in progress.
// Error, ToolCall and Input each mark a boundary; more than one may be set.
func (e ChatEvent) IsBoundary() bool {
	return e.Error != "" || e.ToolCall != nil || e.Input != ""
}

// Combine merges runs of consecutive content fragments into single events.
// Boundary events are passed through verbatim and in order, events with no
// content and no boundary marker are dropped. The input is not modified.
func Combine(events []ChatEvent) []ChatEvent {
	out := make([]ChatEvent, 0, len(events))

	var building *ChatEvent
	flush := func() {
		if building != nil {
			out = append(out, *building)
			building = nil
		}
	}

	for _, ev := range events {
		if ev.IsBoundary() {
			flush()
			out = append(out, ev)
			continue
		}
		if ev.Content == "" {
			continue
		}
		if building == nil {
			building = &ChatEvent{RunID: ev.RunID}
		}
		building.Content += ev.Content
	}
	flush()

	return out
}
