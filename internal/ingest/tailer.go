package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/alert"
	"github.com/alertstream/siem-engine/internal/metrics"
)

// pollInterval bounds how long the tailer sleeps when the log has no new
// data and no filesystem event arrives.
const pollInterval = 500 * time.Millisecond

// Tailer follows the append-only alert log written by the upstream
// intrusion-detection daemon. New lines are decoded as JSON objects and fed
// into the pipeline; undecodable lines (partial writes during rotation) are
// discarded. Rotation is detected by inode change or truncation, in which
// case the tailer reopens the file from the start.
type Tailer struct {
	path     string
	pipeline *Pipeline
	log      zerolog.Logger

	file     *os.File
	reader   *bufio.Reader
	openInfo os.FileInfo
	pending  []byte // partial line carried across reads

	lines        atomic.Int64
	decodeErrors atomic.Int64
	status       atomic.Value // string: "starting", "following", "stopped"
}

// NewTailer creates a Tailer for path feeding p.
func NewTailer(path string, p *Pipeline, log zerolog.Logger) *Tailer {
	t := &Tailer{
		path:     path,
		pipeline: p,
		log:      log.With().Str("component", "tailer").Logger(),
	}
	t.status.Store("starting")
	return t
}

// Status returns the tailer state for the health endpoint.
func (t *Tailer) Status() string {
	s, _ := t.status.Load().(string)
	return s
}

// Run follows the log until ctx is cancelled. The file (and its parent
// directories) are created if missing, and reading starts at the current
// end so only alerts appended after startup are ingested.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.open(true); err != nil {
		return err
	}
	defer t.file.Close()

	// fsnotify wakes the loop as soon as the daemon appends; the poll
	// ticker is the fallback when the watch cannot be established (e.g.
	// network filesystems).
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.log.Warn().Err(err).Msg("watch failed, falling back to polling")
			watcher.Close()
			watcher = nil
		} else {
			events = make(chan fsnotify.Event, 1)
			go func() {
				defer close(events)
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Name == t.path {
							select {
							case events <- ev:
							default:
							}
						}
					case _, ok := <-watcher.Errors:
						if !ok {
							return
						}
					}
				}
			}()
		}
	} else {
		t.log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
	}
	if watcher != nil {
		defer watcher.Close()
	}

	t.status.Store("following")
	t.log.Info().Str("path", t.path).Msg("tailing alert log")

	for {
		t.drain()

		select {
		case <-ctx.Done():
			t.status.Store("stopped")
			t.log.Info().
				Int64("lines", t.lines.Load()).
				Int64("decode_errors", t.decodeErrors.Load()).
				Msg("tailer stopped")
			return nil
		case <-events:
		case <-time.After(pollInterval):
		}

		t.checkRotation()
	}
}

// open opens the log file, creating it and its parent directories when
// missing. seekEnd controls whether reading starts at the end (initial
// open) or the beginning (reopen after rotation).
func (t *Tailer) open(seekEnd bool) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if seekEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return err
		}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	t.file = f
	t.reader = bufio.NewReader(f)
	t.openInfo = info
	t.pending = nil
	return nil
}

// drain reads every complete line currently available. A trailing partial
// line is buffered until the daemon finishes writing it.
func (t *Tailer) drain() {
	for {
		chunk, err := t.reader.ReadBytes('\n')
		if err == nil {
			line := chunk
			if len(t.pending) > 0 {
				line = append(t.pending, chunk...)
				t.pending = nil
			}
			t.handleLine(line)
			continue
		}
		if len(chunk) > 0 {
			t.pending = append(t.pending, chunk...)
		}
		return
	}
}

// handleLine decodes one log line and feeds it to the pipeline. Lines that
// are not JSON objects are dropped without logging: the upstream daemon
// writes partial lines during rotation and those are expected noise.
func (t *Tailer) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	t.lines.Add(1)
	metrics.TailedLinesTotal.Inc()

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		t.decodeErrors.Add(1)
		metrics.TailerDecodeErrorsTotal.Inc()
		return
	}
	t.pipeline.Ingest(raw, alert.SourceWazuh)
}

// checkRotation reopens the log when the file at t.path is no longer the
// one we hold (inode change) or has shrunk below our read position
// (truncation). Lines written between rotation and detection are lost,
// which the upstream contract accepts.
func (t *Tailer) checkRotation() {
	info, err := os.Stat(t.path)
	if err != nil {
		// File vanished mid-rotation; recreate on reopen.
		t.reopen()
		return
	}

	if !os.SameFile(t.openInfo, info) {
		t.log.Info().Str("path", t.path).Msg("log rotated, reopening")
		t.reopen()
		return
	}

	pos, err := t.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	consumed := pos - int64(t.reader.Buffered())
	if info.Size() < consumed {
		t.log.Info().Str("path", t.path).Msg("log truncated, reopening")
		t.reopen()
	}
}

func (t *Tailer) reopen() {
	t.file.Close()
	if err := t.open(false); err != nil {
		t.log.Warn().Err(err).Msg("reopen failed, retrying next cycle")
	}
}
