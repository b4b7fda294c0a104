package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rtvoice/rtvoice/pkg/responder"
	"github.com/rtvoice/rtvoice/pkg/speech"
)

func TestSupervisorPlaysToCompletion(t *testing.T) {
	sink := &recordingSink{}
	onDone, done := completionRecorder()
	sup := NewSupervisor(&echoResponder{chunks: 2}, sink, SupervisorOptions{
		StreamID:   "stream-1",
		OnComplete: onDone,
	})

	sup.Start(context.Background(), Turn{Result: speech.Result{Text: "hello"}}, "call-1", responder.Request{TurnID: "call-1", Text: "hello"})

	select {
	case c := <-done:
		if c.err != nil {
			t.Fatalf("completion error: %v", c.err)
		}
		if c.finalText != "echo: hello" {
			t.Errorf("final text: got %q", c.finalText)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not complete")
	}
	if sink.count() != 2 {
		t.Errorf("audio chunks sent: got %d, want 2", sink.count())
	}
	if sup.Active() {
		t.Error("supervisor should be idle after completion")
	}
}

func TestStartReplacesActiveTask(t *testing.T) {
	sink := &recordingSink{}
	onDone, done := completionRecorder()
	rec := &lifecycleRecorder{}
	sup := NewSupervisor(&echoResponder{chunks: 50, delay: 20 * time.Millisecond}, sink, SupervisorOptions{
		StreamID:   "stream-1",
		OnComplete: onDone,
	})
	sup.SetObserver(rec)
	ctx := context.Background()

	sup.Start(ctx, Turn{Result: speech.Result{Text: "long"}}, "turn-1", responder.Request{TurnID: "turn-1", Text: "long"})
	if !waitFor(time.Second, func() bool { return sink.count() > 0 }) {
		t.Fatal("first task never produced audio")
	}

	sup.Start(ctx, Turn{Result: speech.Result{Text: "next"}}, "turn-2", responder.Request{TurnID: "turn-2", Text: "next"})

	// The replaced task reports cancellation before the new one finishes.
	first := <-done
	if first.turnID != "turn-1" || !errors.Is(first.err, context.Canceled) {
		t.Fatalf("first completion: id=%q err=%v", first.turnID, first.err)
	}
	second := <-done
	if second.turnID != "turn-2" || second.err != nil {
		t.Fatalf("second completion: id=%q err=%v", second.turnID, second.err)
	}

	events := rec.snapshot()
	want := []string{"started", "finished:cancelled", "started", "finished:completed"}
	if len(events) != len(want) {
		t.Fatalf("lifecycle events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("lifecycle events: got %v, want %v", events, want)
		}
	}
}

func TestCancelDetachesAfterDeadline(t *testing.T) {
	sup := NewSupervisor(&stalledResponder{stall: time.Second}, &recordingSink{}, SupervisorOptions{
		StreamID:       "stream-1",
		CancelDeadline: 50 * time.Millisecond,
	})
	sup.Start(context.Background(), Turn{}, "turn-1", responder.Request{TurnID: "turn-1"})

	start := time.Now()
	sup.Cancel()
	elapsed := time.Since(start)

	if sup.Active() {
		t.Error("supervisor should have detached from the stalled task")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("cancel took %v, should return around the deadline", elapsed)
	}
}

func TestResponderFailureIsLocalToTurn(t *testing.T) {
	wantErr := errors.New("generation down")
	onDone, done := completionRecorder()
	sink := &recordingSink{}
	sup := NewSupervisor(&echoResponder{failWith: wantErr}, sink, SupervisorOptions{
		StreamID:   "stream-1",
		OnComplete: onDone,
	})

	sup.Start(context.Background(), Turn{}, "turn-1", responder.Request{TurnID: "turn-1"})
	select {
	case c := <-done:
		if !errors.Is(c.err, wantErr) {
			t.Fatalf("completion error: got %v, want %v", c.err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("failed task never reported completion")
	}
	if sup.Active() {
		t.Error("supervisor should be idle after a failed turn")
	}
}
