package helpers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/core/telegram/sender"
)

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []int
	done    chan struct{}
}

func (r *recordingDeleter) Delete(_ context.Context, _ int64, messageID int) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, messageID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return nil
}

func TestDeleteLaterRunsInlineWithoutDispatcher(t *testing.T) {
	SetDispatcher(nil)
	d := &recordingDeleter{}
	if err := DeleteLater(context.Background(), d, 1, 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(d.deleted) != 1 || d.deleted[0] != 42 {
		t.Fatalf("expected inline delete of 42, got %v", d.deleted)
	}
}

func TestDeleteLaterUsesDispatcher(t *testing.T) {
	disp := sender.NewDispatcher(sender.Options{QueueSize: 4, Workers: 1})
	SetDispatcher(disp)
	defer func() {
		SetDispatcher(nil)
		disp.Close()
	}()

	d := &recordingDeleter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	if err := DeleteLater(ctx, d, 1, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cancel()

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not run the delete")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deleted) != 1 || d.deleted[0] != 7 {
		t.Fatalf("expected delete of 7, got %v", d.deleted)
	}
}
