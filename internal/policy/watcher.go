package policy

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay absorbs editor write bursts before reloading.
const debounceDelay = 150 * time.Millisecond

// Watch watches path's parent directory for changes (to catch atomic
// rename-based writes) and sends the freshly reloaded Policy on the
// returned channel, debounced, until ctx is done. On decode failure the
// current policy is kept and the error logged. Watch returns once the
// directory watch is in place (or has failed to start).
func Watch(ctx context.Context, path string) <-chan *Policy {
	out := make(chan *Policy, 1)
	ready := make(chan struct{})
	go watchLoop(ctx, path, out, ready)
	<-ready
	return out
}

func watchLoop(ctx context.Context, path string, out chan<- *Policy, ready chan<- struct{}) {
	defer close(out)
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }
	defer signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("policy: failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("policy: failed to watch directory %s: %v", dir, err)
		return
	}
	signalReady()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	triggerReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() {
			p, err := Load(path)
			if err != nil {
				log.Printf("policy: reload failed, keeping current policy: %v", err)
				return
			}
			select {
			case out <- p:
			default:
				log.Printf("policy: reload already pending, skipping")
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				triggerReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("policy: watcher error: %v", err)
		}
	}
}
