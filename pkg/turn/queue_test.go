package turn

import (
	"context"
	"testing"
	"time"

	"github.com/rtvoice/rtvoice/pkg/speech"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4, nil)
	for _, text := range []string{"first", "second", "third"} {
		if !q.TryEnqueue(Turn{Result: speech.Result{Text: text, IsFinal: true}}) {
			t.Fatalf("enqueue %q failed", text)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got.Result.Text != want {
			t.Errorf("dequeue order: got %q, want %q", got.Result.Text, want)
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, nil)

	if !q.TryEnqueue(Turn{Result: speech.Result{Text: "kept"}}) {
		t.Fatal("first enqueue should succeed")
	}
	if q.TryEnqueue(Turn{Result: speech.Result{Text: "dropped"}}) {
		t.Fatal("second enqueue should drop on a full queue")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("dropped count: got %d, want 1", got)
	}

	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.Result.Text != "kept" {
		t.Errorf("surviving turn: got %q, want %q", got.Result.Text, "kept")
	}
	if q.Len() != 0 {
		t.Errorf("queue should be empty, has %d", q.Len())
	}
}

func TestDequeueUnblocksOnCancel(t *testing.T) {
	q := NewQueue(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock on cancel")
	}
}

func TestAcceptStampsEnqueueTime(t *testing.T) {
	q := NewQueue(1, nil)
	before := time.Now()
	if !q.Accept(speech.Result{Text: "hello", IsFinal: true}) {
		t.Fatal("accept should succeed")
	}
	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.EnqueuedAt.Before(before) {
		t.Error("enqueue time not stamped")
	}
}
