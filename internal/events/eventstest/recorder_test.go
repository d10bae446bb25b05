package eventstest

import (
	"context"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-admin/internal/events"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(context.Background(), events.Event{Name: events.HandlerCompleted})
		}()
	}
	wg.Wait()

	got := r.Events()
	if len(got) != 10 {
		t.Fatalf("recorded %d events, want 10", len(got))
	}
	got[0].Name = "mutated"
	if r.Names()[0] != events.HandlerCompleted {
		t.Fatal("Events must return a copy")
	}
}
