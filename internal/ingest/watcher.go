package ingest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is how long the dataset directory must stay quiet
// before a change is reported. Export batches land file by file; firing
// per write would re-run the pipeline eight times per drop.
const defaultSettle = 2 * time.Second

// Watcher reports settled changes to the CSV files under a dataset
// directory. Non-CSV churn (editor temp files, partial downloads with
// other extensions) is ignored.
type Watcher struct {
	dir      string
	settle   time.Duration
	onChange func()
}

// NewWatcher creates a dataset watcher. onChange runs on the watcher
// goroutine after each settled burst of CSV changes; settle <= 0 picks
// the default.
func NewWatcher(dir string, settle time.Duration, onChange func()) *Watcher {
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Watcher{dir: dir, settle: settle, onChange: onChange}
}

// Run watches until the context is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watcher: add %s: %w", w.dir, err)
	}
	log.Printf("[Watcher] Watching %s for dataset changes", w.dir)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Watcher] Stopping dataset watcher")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isCSV(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// restart the settle window on every relevant event
			pending = time.After(w.settle)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Watcher] Error: %v", err)

		case <-pending:
			pending = nil
			log.Printf("[Watcher] Dataset change settled, triggering reload")
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
