package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSeededStore(t *testing.T) {
	s := NewSeeded(nil)

	ids := s.List()
	if len(ids) != 6 {
		t.Fatalf("want 6 seeded documents, got %d: %v", len(ids), ids)
	}
	// Sorted order puts deposition.md first.
	if ids[0] != "deposition.md" {
		t.Fatalf("ids not sorted: %v", ids)
	}

	content, err := s.Read("report.pdf")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "The report details the state of a 20m condenser tower." {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestReadUnknown(t *testing.T) {
	s := NewSeeded(nil)
	if _, err := s.Read("nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEdit(t *testing.T) {
	s := NewSeeded(nil)

	if err := s.Edit("plan.md", "outlines the steps", "describes the phases"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	content, _ := s.Read("plan.md")
	if content != "The plan describes the phases for the project's implementation." {
		t.Fatalf("edit not applied: %q", content)
	}

	if err := s.Edit("missing.md", "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestNewFromDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha")
	writeFile(t, filepath.Join(dir, "b.txt"), "beta")
	writeFile(t, filepath.Join(dir, ".hidden"), "nope")

	s, err := NewFromDir(dir, nil)
	if err != nil {
		t.Fatalf("new from dir: %v", err)
	}
	ids := s.List()
	if len(ids) != 2 || ids[0] != "a.md" || ids[1] != "b.txt" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if content, _ := s.Read("a.md"); content != "alpha" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "v1")

	s, err := NewFromDir(dir, nil)
	if err != nil {
		t.Fatalf("new from dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, dir)
	}()

	// Give the watcher goroutine time to register the directory
	// before writing, or the events below are never delivered.
	time.Sleep(300 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "a.md"), "v2")
	writeFile(t, filepath.Join(dir, "b.md"), "new doc")

	waitFor(t, func() bool {
		content, err := s.Read("a.md")
		return err == nil && content == "v2"
	}, "a.md not reloaded")
	waitFor(t, func() bool {
		_, err := s.Read("b.md")
		return err == nil
	}, "b.md not picked up")

	if err := os.Remove(filepath.Join(dir, "b.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, func() bool {
		_, err := s.Read("b.md")
		return errors.Is(err, ErrNotFound)
	}, "b.md not dropped after removal")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
