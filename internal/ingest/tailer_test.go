package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// startTailer runs a tailer against path and blocks until it is following
// the file. Cleanup cancels it and waits for exit.
func startTailer(t *testing.T, path string, p *Pipeline) *Tailer {
	t.Helper()
	tailer := NewTailer(path, p, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tailer.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for tailer.Status() != "following" {
		if time.Now().After(deadline) {
			t.Fatalf("tailer stuck in %q", tailer.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	return tailer
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestTailer(t *testing.T) {
	t.Run("creates_missing_file", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "logs", "alerts.json")
		startTailer(t, path, p)

		if _, err := os.Stat(path); err != nil {
			t.Errorf("log file not created: %v", err)
		}
	})

	t.Run("ingests_appended_lines", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "alerts.json")
		startTailer(t, path, p)

		c := p.Subscribe("c1")
		defer p.Unsubscribe("c1")

		appendLine(t, path, `{"rule":{"level":6,"groups":["sshd"]},"agent":{"name":"h1","ip":"10.0.0.1"}}`+"\n")
		appendLine(t, path, `{"rule":{"level":3,"groups":["syslog"]},"agent":{"name":"h2","ip":"10.0.0.2"}}`+"\n")

		got := collect(t, c, 2)
		if len(got) != 2 {
			t.Fatalf("got %d alerts, want 2", len(got))
		}
	})

	t.Run("skips_undecodable_lines", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "alerts.json")
		tailer := startTailer(t, path, p)

		c := p.Subscribe("c1")
		defer p.Unsubscribe("c1")

		appendLine(t, path, "not json at all\n")
		appendLine(t, path, `{"rule":{"level":3}}`+"\n")

		// Only the valid line comes through.
		collect(t, c, 1)
		assertNoFrame(t, c)
		if tailer.decodeErrors.Load() != 1 {
			t.Errorf("decodeErrors = %d, want 1", tailer.decodeErrors.Load())
		}
	})

	t.Run("buffers_partial_writes", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "alerts.json")
		startTailer(t, path, p)

		c := p.Subscribe("c1")
		defer p.Unsubscribe("c1")

		// The daemon flushes mid-line; nothing must be ingested until the
		// newline lands.
		appendLine(t, path, `{"rule":{"lev`)
		time.Sleep(700 * time.Millisecond)
		assertNoFrame(t, c)

		appendLine(t, path, `el":5}}`+"\n")
		collect(t, c, 1)
	})

	t.Run("starts_at_end_of_existing_file", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "alerts.json")
		if err := os.WriteFile(path, []byte(`{"rule":{"level":9}}`+"\n"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
		startTailer(t, path, p)

		c := p.Subscribe("c1")
		defer p.Unsubscribe("c1")

		// Pre-existing content is skipped.
		time.Sleep(700 * time.Millisecond)
		assertNoFrame(t, c)

		appendLine(t, path, `{"rule":{"level":4}}`+"\n")
		collect(t, c, 1)
	})

	t.Run("reopens_after_rotation", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		dir := t.TempDir()
		path := filepath.Join(dir, "alerts.json")
		startTailer(t, path, p)

		c := p.Subscribe("c1")
		defer p.Unsubscribe("c1")

		appendLine(t, path, `{"rule":{"level":1}}`+"\n")
		collect(t, c, 1)

		// Rotate: move the file aside and write a fresh one.
		if err := os.Rename(path, filepath.Join(dir, "alerts.json.1")); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if err := os.WriteFile(path, []byte(`{"rule":{"level":2}}`+"\n"), 0o644); err != nil {
			t.Fatalf("write rotated file: %v", err)
		}

		// The tailer reopens from the start of the new file.
		collect(t, c, 1)
	})

	t.Run("reports_stopped_after_cancel", func(t *testing.T) {
		p := newTestPipeline(t, PipelineOptions{})
		path := filepath.Join(t.TempDir(), "alerts.json")
		tailer := NewTailer(path, p, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			tailer.Run(ctx)
		}()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("tailer did not exit on cancel")
		}
		if tailer.Status() != "stopped" {
			t.Errorf("Status = %q, want stopped", tailer.Status())
		}
	})
}
