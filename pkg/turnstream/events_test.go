package turnstream

import (
	"encoding/json"
	"testing"
)

func TestEventJSONShape(t *testing.T) {
	ev := Assistant("turn-1", "hello")
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["type"] != "assistant" {
		t.Fatalf("expected type assistant, got %v", out["type"])
	}
	if out["turn_id"] != "turn-1" {
		t.Fatalf("expected turn_id, got %v", out["turn_id"])
	}
	if _, ok := out["tool"]; ok {
		t.Fatalf("tool field must be omitted when empty")
	}
}

func TestChannelEmitterDropsWhenFull(t *testing.T) {
	e := NewChannelEmitter(1)
	e.Emit(User("t1", "one"))
	e.Emit(User("t2", "two"))

	select {
	case ev := <-e.Events():
		if ev.TurnID != "t1" {
			t.Fatalf("expected first event kept, got %s", ev.TurnID)
		}
	default:
		t.Fatalf("expected one buffered event")
	}
	select {
	case ev := <-e.Events():
		t.Fatalf("expected overflow dropped, got %v", ev)
	default:
	}
}
