package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan struct{}, 8)
	w := NewWatcher(dir, 100*time.Millisecond, func() { changes <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// let the watch registration settle before writing
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "card_swipes.csv")
	if err := os.WriteFile(path, []byte("card_id,location_id,timestamp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte("card_id,location_id,timestamp\nC1,LAB_101,2025-01-02 09:00:00\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a change notification")
	}

	// both writes fall inside one settle window
	select {
	case <-changes:
		t.Fatal("Expected writes to coalesce into a single notification")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestWatcherIgnoresNonCSV(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan struct{}, 1)
	w := NewWatcher(dir, 50*time.Millisecond, func() { changes <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changes:
		t.Fatal("Expected non-CSV churn to be ignored")
	case <-time.After(400 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope"), 0, nil)

	if err := w.Run(context.Background()); err == nil {
		t.Error("Expected error watching a missing directory")
	}
}
