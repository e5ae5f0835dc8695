package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/modkit/internal/extension"
)

// Recorder collects lifecycle events from RecordingExt instances across
// every mod of a test, in call order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Event is one recorded lifecycle call.
type Event struct {
	Mod  string
	Kind string // "load", "tick" or "unload"
	At   time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(mod, kind string) {
	r.mu.Lock()
	r.events = append(r.events, Event{Mod: mod, Kind: kind, At: time.Now()})
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// LoadOrder returns the mod names in the order their load hooks ran.
func (r *Recorder) LoadOrder() []string {
	var order []string
	for _, e := range r.Events() {
		if e.Kind == "load" {
			order = append(order, e.Mod)
		}
	}
	return order
}

// Count returns how many events of kind were recorded for mod.
func (r *Recorder) Count(mod, kind string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Mod == mod && e.Kind == kind {
			n++
		}
	}
	return n
}

// RecordingExt is an extension double that reports its lifecycle to a
// shared Recorder. LoadErr and TickErr, when set, are returned from the
// corresponding hooks.
type RecordingExt struct {
	Rec     *Recorder
	LoadErr error
	TickErr error

	mod string
}

// Load implements extension.Extension.
func (e *RecordingExt) Load(_ context.Context, host extension.Host) error {
	e.mod = host.ModName()
	e.Rec.record(e.mod, "load")
	return e.LoadErr
}

// Tick implements extension.Extension.
func (e *RecordingExt) Tick(context.Context) error {
	e.Rec.record(e.mod, "tick")
	return e.TickErr
}

// Unload implements extension.Extension.
func (e *RecordingExt) Unload(context.Context) error {
	e.Rec.record(e.mod, "unload")
	return nil
}

// RegisterRecording binds a RecordingExt constructor for each given name
// on a fresh extension registry.
func RegisterRecording(rec *Recorder, names ...string) *extension.Registry {
	reg := extension.NewRegistry()
	for _, name := range names {
		reg.Register(name, func() extension.Extension {
			return &RecordingExt{Rec: rec}
		})
	}
	return reg
}
