package selection

import "time"

// Target is anything that restyles itself for a selection. The broadcaster
// knows nothing else about the views it drives.
type Target interface {
	ApplySelection(sel Selection)
}

// State is the single current selection. Only the Broadcaster writes it.
type State struct {
	current  Selection
	revision uint64
	origin   string
	changed  time.Time
}

// Current returns the active selection.
func (s *State) Current() Selection { return s.current }

// Revision increments on every write, including writes of an equal value.
func (s *State) Revision() uint64 { return s.revision }

// Origin names the view whose gesture produced the current selection, or ""
// when it was cleared programmatically.
func (s *State) Origin() string { return s.origin }

// Changed is the time of the last write.
func (s *State) Changed() time.Time { return s.changed }

func (s *State) set(origin string, sel Selection, now time.Time) {
	s.current = sel
	s.origin = origin
	s.revision++
	s.changed = now
}

// Change describes one broadcast, as seen by observers.
type Change struct {
	Origin    string
	Selection Selection
	Previous  Selection
	Revision  uint64
	Final     bool
	At        time.Time
}

// Broadcaster owns the State and pushes every new selection to all
// registered targets. It is not safe for concurrent use; callers serialise
// access.
type Broadcaster struct {
	state     State
	targets   []Target
	observers []func(Change)
	now       func() time.Time
}

// NewBroadcaster returns a broadcaster in the Unselected state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{now: time.Now}
}

// Register adds targets. Registration happens once, at construction.
func (b *Broadcaster) Register(targets ...Target) {
	b.targets = append(b.targets, targets...)
}

// Observe adds a callback run after every broadcast, once targets are
// restyled.
func (b *Broadcaster) Observe(fn func(Change)) {
	b.observers = append(b.observers, fn)
}

// State exposes the current state read-only.
func (b *Broadcaster) State() *State { return &b.state }

// Current is shorthand for State().Current().
func (b *Broadcaster) Current() Selection { return b.state.current }

// OnGestureResult replaces the selection wholesale and restyles every target,
// the originating view included.
func (b *Broadcaster) OnGestureResult(origin string, sel Selection) Change {
	return b.broadcast(origin, sel, true)
}

// OnGestureProgress is OnGestureResult for an intermediate, live-brush
// update of a gesture that has not ended yet.
func (b *Broadcaster) OnGestureProgress(origin string, sel Selection) Change {
	return b.broadcast(origin, sel, false)
}

// Reapply pushes the current selection to every target without changing
// state.
func (b *Broadcaster) Reapply() {
	for _, t := range b.targets {
		t.ApplySelection(b.state.current)
	}
}

// Reset returns to Unselected, e.g. after the dataset is reloaded.
func (b *Broadcaster) Reset() Change {
	return b.broadcast("", Unselected(), true)
}

func (b *Broadcaster) broadcast(origin string, sel Selection, final bool) Change {
	prev := b.state.current
	b.state.set(origin, sel, b.now())
	for _, t := range b.targets {
		t.ApplySelection(sel)
	}
	ch := Change{
		Origin:    origin,
		Selection: sel,
		Previous:  prev,
		Revision:  b.state.revision,
		Final:     final,
		At:        b.state.changed,
	}
	for _, fn := range b.observers {
		fn(ch)
	}
	return ch
}
