// Package debounce coalesces bursts of local edits into one durable write
// per document and quiescence window.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/delta"
)

// DefaultWindow is the idle period after the last edit before a write fires.
const DefaultWindow = 850 * time.Millisecond

// Status is the save state of one document.
type Status int

const (
	StatusIdle Status = iota
	StatusSaving
	StatusSaved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// WriteFunc performs the durable write of a serialized model.
type WriteFunc func(ctx context.Context, documentID, content string) error

// StatusFunc observes status changes. err is set for StatusFailed.
// It is called without internal locks held, possibly from a timer goroutine.
type StatusFunc func(documentID string, status Status, err error)

// Options configures a Debouncer. Zero values take defaults.
type Options struct {
	Window       time.Duration
	WriteTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
	OnStatus     StatusFunc
	// Suppress reports content that must never be written. Defaults to
	// blank or unparseable models.
	Suppress func(content string) bool
}

type document struct {
	timer clockwork.Timer
	// pending is armed on the timer; queued waits behind an in-flight write.
	pending  *string
	queued   *string
	inFlight bool
	// idle is closed when the in-flight write and everything queued
	// behind it are done; lastErr is the error of the final write.
	idle    chan struct{}
	lastErr error
	gen     uint64
	saved   string
	status  Status
}

// Debouncer keeps one pending-write timer per document.
type Debouncer struct {
	write WriteFunc
	opts  Options

	mu   sync.Mutex
	docs map[string]*document
	// gen is shared by all documents so a timer armed before Forget can
	// never match a generation issued after it.
	gen uint64
}

// New creates a Debouncer that persists through write.
func New(write WriteFunc, opts Options) *Debouncer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Suppress == nil {
		opts.Suppress = Degenerate
	}
	return &Debouncer{write: write, opts: opts, docs: make(map[string]*document)}
}

// Degenerate reports content that is blank (an editor right after
// initialization) or not a valid model.
func Degenerate(content string) bool {
	d, err := delta.Parse([]byte(content))
	if err != nil || !d.IsDocument() {
		return true
	}
	return delta.IsBlank(d)
}

func (d *Debouncer) doc(documentID string) *document {
	doc, ok := d.docs[documentID]
	if !ok {
		doc = &document{}
		d.docs[documentID] = doc
	}
	return doc
}

// Edit records the latest content of documentID and restarts its window.
// Degenerate content cancels the pending write and is never written.
func (d *Debouncer) Edit(documentID, content string) {
	if d.opts.Suppress(content) {
		if d.Cancel(documentID) {
			d.opts.Logger.Debug("debounce: blank edit cancelled pending write",
				slog.String("document", documentID))
		}
		return
	}

	d.mu.Lock()
	doc := d.doc(documentID)
	if doc.timer != nil {
		doc.timer.Stop()
	}
	c := content
	doc.pending = &c
	d.gen++
	doc.gen = d.gen
	gen := doc.gen
	doc.timer = d.opts.Clock.AfterFunc(d.opts.Window, func() { d.fire(documentID, gen) })
	changed := doc.status != StatusSaving
	doc.status = StatusSaving
	d.mu.Unlock()

	if changed {
		d.notify(documentID, StatusSaving, nil)
	}
}

// fire writes the pending snapshot, then anything queued behind it, so at
// most one write per document is in flight. A timer armed for an older
// generation is stale and does nothing; gen 0 fires unconditionally.
// When a write is already in flight the snapshot is queued and the
// returned channel closes once the queue has drained.
func (d *Debouncer) fire(documentID string, gen uint64) (<-chan struct{}, error) {
	d.mu.Lock()
	doc, ok := d.docs[documentID]
	if !ok || (gen != 0 && gen != doc.gen) {
		d.mu.Unlock()
		return nil, nil
	}
	if doc.pending == nil {
		var idle <-chan struct{}
		if gen == 0 && doc.inFlight && doc.queued != nil {
			idle = doc.idle
		}
		d.mu.Unlock()
		return idle, nil
	}
	doc.timer = nil
	content := *doc.pending
	doc.pending = nil
	if doc.inFlight {
		doc.queued = &content
		idle := doc.idle
		d.mu.Unlock()
		return idle, nil
	}
	doc.inFlight = true
	doc.idle = make(chan struct{})
	d.mu.Unlock()

	var lastErr error
	for {
		err := d.persist(documentID, content)
		if err != nil {
			lastErr = err
		}

		d.mu.Lock()
		if err == nil {
			doc.saved = checksum.Sum([]byte(content))
		}
		if doc.queued != nil {
			content = *doc.queued
			doc.queued = nil
			d.mu.Unlock()
			continue
		}
		doc.inFlight = false
		doc.lastErr = err
		close(doc.idle)
		status := StatusSaved
		if err != nil {
			status = StatusFailed
		}
		if doc.pending != nil {
			// A newer edit is armed; the document is still saving.
			d.mu.Unlock()
			if err != nil {
				d.notify(documentID, StatusFailed, err)
			}
			return nil, lastErr
		}
		doc.status = status
		d.mu.Unlock()

		d.notify(documentID, status, err)
		return nil, err
	}
}

func (d *Debouncer) persist(documentID, content string) error {
	d.mu.Lock()
	unchanged := d.docs[documentID].saved == checksum.Sum([]byte(content))
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()
	if err := d.write(ctx, documentID, content); err != nil {
		d.opts.Logger.Warn("debounce: write failed",
			slog.String("document", documentID),
			slog.String("error", err.Error()))
		return err
	}
	d.opts.Logger.Debug("debounce: written", slog.String("document", documentID))
	return nil
}

func (d *Debouncer) notify(documentID string, status Status, err error) {
	if d.opts.OnStatus != nil {
		d.opts.OnStatus(documentID, status, err)
	}
}

// Flush writes the pending snapshot of documentID now instead of waiting
// for its window, and returns once it is durable. If a write is already in
// flight, Flush waits for it and for the snapshot queued behind it, and
// returns the error of the last write. It is a no-op without a pending
// write.
func (d *Debouncer) Flush(documentID string) error {
	d.mu.Lock()
	doc, ok := d.docs[documentID]
	if ok && doc.timer != nil {
		doc.timer.Stop()
		doc.timer = nil
	}
	d.mu.Unlock()

	idle, err := d.fire(documentID, 0)
	if idle == nil {
		return err
	}
	<-idle
	d.mu.Lock()
	defer d.mu.Unlock()
	return doc.lastErr
}

// Cancel drops the pending snapshot of documentID without writing it and
// reports whether one was pending. A write already in flight completes.
func (d *Debouncer) Cancel(documentID string) bool {
	d.mu.Lock()
	doc, ok := d.docs[documentID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if doc.timer != nil {
		doc.timer.Stop()
		doc.timer = nil
	}
	had := doc.pending != nil || doc.queued != nil
	doc.pending = nil
	doc.queued = nil
	changed := false
	if !doc.inFlight && doc.status == StatusSaving {
		doc.status = StatusIdle
		changed = true
	}
	d.mu.Unlock()

	if changed {
		d.notify(documentID, StatusIdle, nil)
	}
	return had
}

// Forget cancels documentID and discards its saved checksum, as when the
// document no longer exists.
func (d *Debouncer) Forget(documentID string) {
	d.Cancel(documentID)
	d.mu.Lock()
	if doc, ok := d.docs[documentID]; ok && !doc.inFlight {
		delete(d.docs, documentID)
	}
	d.mu.Unlock()
}

// Pending reports whether documentID has an unwritten snapshot.
func (d *Debouncer) Pending(documentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[documentID]
	return ok && (doc.pending != nil || doc.queued != nil)
}

// Status returns the save status of documentID.
func (d *Debouncer) Status(documentID string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.docs[documentID]; ok {
		return doc.status
	}
	return StatusIdle
}

// MarkSaved records content as already persisted, so an identical edit
// does not produce a write.
func (d *Debouncer) MarkSaved(documentID, content string) {
	d.mu.Lock()
	d.doc(documentID).saved = checksum.Sum([]byte(content))
	d.mu.Unlock()
}

// FlushAll writes every pending snapshot and returns the joined errors.
func (d *Debouncer) FlushAll() error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.docs))
	for id, doc := range d.docs {
		if doc.pending != nil || doc.queued != nil {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.Flush(id); err != nil {
			errs = append(errs, fmt.Errorf("debounce: flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
