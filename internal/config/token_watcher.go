package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenFile serves a GitHub token from a file and refreshes it when the
// file is rewritten, so a rotated installation token is picked up without a
// restart. Get is safe for concurrent use.
type TokenFile struct {
	path string

	mu    sync.RWMutex
	token string
}

// NewTokenFile reads the initial token from path.
func NewTokenFile(path string) (*TokenFile, error) {
	t := &TokenFile{path: path}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the current token.
func (t *TokenFile) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *TokenFile) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file %s is empty", t.path)
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return nil
}

// Watch re-reads the token whenever the file changes. Blocks until ctx is
// canceled. The parent directory is watched, not the file itself, because
// rotation tooling typically replaces the file by rename.
func (t *TokenFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(t.path), err)
	}

	base := filepath.Base(t.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := t.reload(); err != nil {
					log.Printf("config: token reload failed: %v", err)
					continue
				}
				log.Printf("config: reloaded token from %s", t.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: token watcher error: %v", err)
		}
	}
}
