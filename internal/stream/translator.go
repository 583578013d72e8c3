package stream

import (
	"iter"
	"sync"
	"sync/atomic"
)

type Status string

const (
	StatusStartup    Status = "startup"
	StatusRetrieving Status = "retrieving"
	StatusReducing   Status = "reducing"
	StatusGenerating Status = "generating"
	StatusStopped    Status = "stopped"
)

// Event is one progress value. Content is a count for retrieving and
// reducing, and the cumulative answer text for generating and stopped.
type Event struct {
	Status  Status `json:"status"`
	Content any    `json:"content,omitempty"`
}

// StopFlag requests a cooperative stop. The translator checks it once per
// incoming update and clears it when honoured.
type StopFlag struct {
	v atomic.Bool
}

func (f *StopFlag) Stop()         { f.v.Store(true) }
func (f *StopFlag) Stopped() bool { return f.v.Load() }

func (f *StopFlag) take() bool {
	return f != nil && f.v.CompareAndSwap(true, false)
}

// Translate emits exactly one Event per update, in phase order. Setting stop
// ends the sequence with a stopped event carrying the last generated text;
// an upstream error ends it with that error.
func Translate(updates iter.Seq2[Update, error], stop *StopFlag) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		var (
			doc                             Builder
			retrieving, retrieved, reducing bool
			lastText                        string
		)

		for u, err := range updates {
			if err != nil {
				yield(Event{}, err)
				return
			}
			doc.Apply(u)

			var ev Event
			switch {
			case stop.take():
				yield(Event{Status: StatusStopped, Content: lastText}, nil)
				return
			case !retrieving && doc.RetrievalStarted():
				retrieving = true
				ev = Event{Status: StatusRetrieving}
			case !retrieved && hasDocuments(&doc):
				n, _ := doc.Documents()
				retrieved = true
				ev = Event{Status: StatusRetrieving, Content: n}
			case !reducing && hasNotes(&doc):
				n, _ := doc.Notes()
				reducing = true
				ev = Event{Status: StatusReducing, Content: n}
			case doc.Text() != "":
				lastText = doc.Text()
				ev = Event{Status: StatusGenerating, Content: lastText}
			default:
				ev = Event{Status: StatusStartup}
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func hasDocuments(b *Builder) bool { _, ok := b.Documents(); return ok }
func hasNotes(b *Builder) bool     { _, ok := b.Notes(); return ok }

// Runs tracks the stop flags of in-flight runs by id.
type Runs struct {
	mu    sync.Mutex
	flags map[string]*StopFlag
}

func NewRuns() *Runs {
	return &Runs{flags: make(map[string]*StopFlag)}
}

// Start registers a run and returns its flag plus a release func that must
// be called when the run ends.
func (r *Runs) Start(id string) (*StopFlag, func()) {
	f := &StopFlag{}
	r.mu.Lock()
	r.flags[id] = f
	r.mu.Unlock()
	return f, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.flags[id] == f {
			delete(r.flags, id)
		}
	}
}

// Stop flags the run and reports whether it was in flight.
func (r *Runs) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[id]
	if ok {
		f.Stop()
	}
	return ok
}

func (r *Runs) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flags)
}
