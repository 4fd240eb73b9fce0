package queue

import (
	"testing"
)

func TestNewTask(t *testing.T) {
	task := NewTask(TaskTypeChatRun, "th-123", "run-1")

	if task.Type != TaskTypeChatRun {
		t.Errorf("expected type chat_run, got %s", task.Type)
	}

	if task.ThreadID != "th-123" {
		t.Errorf("expected thread ID th-123, got %s", task.ThreadID)
	}

	if task.ID == "" {
		t.Error("expected task ID to be generated")
	}

	if task.RunID != "run-1" {
		t.Errorf("expected run ID run-1, got %s", task.RunID)
	}

	if task.Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", task.Attempts)
	}

	chat := NewChatRunTask("th-1", "run-2", "hello")
	if chat.Type != TaskTypeChatRun || chat.Input != "hello" || chat.RunID != "run-2" {
		t.Errorf("unexpected chat run task %+v", chat)
	}
	if chat.ID == task.ID {
		t.Error("expected unique task IDs")
	}
}
