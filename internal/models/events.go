package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Component names the unit of work an event belongs to.
type Component string

const (
	ComponentPatchDownload       Component = "patch-download"
	ComponentPatchApply          Component = "patch-apply"
	ComponentOnlinePatchDownload Component = "online-patch-download"
	ComponentOnlinePatchApply    Component = "online-patch-apply"
	ComponentOnlinePatchRevert   Component = "online-patch-revert"
	ComponentRuntimeCheck        Component = "runtime-check"
	ComponentRuntimeDownload     Component = "runtime-download"
	ComponentRuntimeInstall      Component = "runtime-install"
	ComponentAuxDownload         Component = "aux-download"
	ComponentTool                Component = "patch-tool"
)

// Phase is the lifecycle position of an event.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseProgress Phase = "progress"
	PhaseEnd      Phase = "end"
	PhaseLog      Phase = "log"
	PhaseDebug    Phase = "debug"
)

// Event is a single progress or log notification.
type Event struct {
	Component  Component `json:"component,omitempty"`
	Phase      Phase     `json:"phase"`
	Instance   string    `json:"instance,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Percent    float64   `json:"percent,omitempty"`
	Err        string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink receives events. Implementations must not block for long; the
// orchestrator emits from the calling goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Tagged fills Instance, Operation and (when unset) Component on each event
// before forwarding it.
func Tagged(next Sink, instance, operation string, component Component) Sink {
	next = OrDiscard(next)
	return SinkFunc(func(e Event) {
		if e.Instance == "" {
			e.Instance = instance
		}
		if e.Operation == "" {
			e.Operation = operation
		}
		if e.Component == "" {
			e.Component = component
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		next.Emit(e)
	})
}

// Throttled rate limits progress events per component. Start, end and log
// events always pass so consumers never miss a transition.
func Throttled(next Sink, every time.Duration) Sink {
	return &throttled{next: OrDiscard(next), every: every, limiters: make(map[Component]*rate.Limiter)}
}

type throttled struct {
	next     Sink
	every    time.Duration
	mu       sync.Mutex
	limiters map[Component]*rate.Limiter
}

func (t *throttled) Emit(e Event) {
	if e.Phase == PhaseProgress && !t.allow(e.Component) {
		return
	}
	t.next.Emit(e)
}

func (t *throttled) allow(c Component) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[c]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[c] = l
	}
	return l.Allow()
}

// Multi fans each event out to every sink.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// Recorder collects events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
