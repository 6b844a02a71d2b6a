// Package docstore holds the documents served by the document MCP
// server. The store is either seeded with a built-in corpus or loaded
// from a directory, in which case edits on disk are picked up live.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

// ErrNotFound indicates the requested document id is not in the store.
var ErrNotFound = errors.New("docstore: document not found")

// seedDocs is the built-in corpus used when no directory is configured.
var seedDocs = map[string]string{
	"deposition.md":   "This deposition covers the testimony of Angela Smith, P.E.",
	"report.pdf":      "The report details the state of a 20m condenser tower.",
	"financials.docx": "These financials outline the project's budget and expenditures.",
	"outlook.pdf":     "This document presents the projected future performance of the system.",
	"plan.md":         "The plan outlines the steps for the project's implementation.",
	"spec.txt":        "These specifications define the technical requirements for the equipment.",
}

// Store is a concurrency-safe id-to-content document map.
type Store struct {
	mu   sync.RWMutex
	docs map[string]string
	log  *slog.Logger
}

// NewSeeded returns a store holding the built-in document corpus.
func NewSeeded(logHandler slog.Handler) *Store {
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}
	docs := make(map[string]string, len(seedDocs))
	for id, content := range seedDocs {
		docs[id] = content
	}
	return &Store{docs: docs, log: slog.New(logHandler)}
}

// NewFromDir loads every regular UTF-8 file at the top level of dir.
// The file's base name is its document id.
func NewFromDir(dir string, logHandler slog.Handler) (*Store, error) {
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}
	s := &Store{docs: make(map[string]string), log: slog.New(logHandler)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading document dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := s.loadFile(filepath.Join(dir, e.Name())); err != nil {
			s.log.Warn("skipping document", slog.String("file", e.Name()), slog.String("err", err.Error()))
		}
	}
	return s, nil
}

func (s *Store) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		return errors.New("not valid UTF-8")
	}
	s.mu.Lock()
	s.docs[filepath.Base(path)] = string(data)
	s.mu.Unlock()
	return nil
}

// List returns all document ids in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Read returns the content of the document with the given id.
func (s *Store) Read(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.docs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return content, nil
}

// Edit replaces every occurrence of oldStr in the document with newStr.
// The match is exact, whitespace included.
func (s *Store) Edit(id, oldStr, newStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.docs[id] = strings.ReplaceAll(content, oldStr, newStr)
	return nil
}

// Watch reloads documents as files in dir change, until ctx is
// canceled. Create and Write events refresh the document; Remove and
// Rename drop it. Runs in the calling goroutine.
func (s *Store) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() {
		// Best-effort watcher close.
		_ = w.Close()
	}()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if fi, err := os.Stat(ev.Name); err != nil || fi.IsDir() {
					continue
				}
				if err := s.loadFile(ev.Name); err != nil {
					s.log.Warn("reload failed", slog.String("doc", name), slog.String("err", err.Error()))
					continue
				}
				s.log.Debug("document reloaded", slog.String("doc", name))
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				s.mu.Lock()
				delete(s.docs, name)
				s.mu.Unlock()
				s.log.Debug("document removed", slog.String("doc", name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error", slog.String("err", err.Error()))
		}
	}
}
