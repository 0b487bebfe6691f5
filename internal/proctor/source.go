package proctor

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Dispatcher receives signals from an attached EventSource.
type Dispatcher func(Signal) Verdict

// EventSource listens to one family of native signals.
type EventSource interface {
	Family() Family
	Attach(d Dispatcher)
	Detach()
	Attached() bool
	Feed(ev RawEvent) Verdict
}

// Source is the adapter for one signal family. While detached it drops
// everything it is fed.
type Source struct {
	family Family
	clock  clockwork.Clock

	mu       sync.RWMutex
	dispatch Dispatcher
}

// NewSource creates a detached adapter for the family.
func NewSource(family Family, clock clockwork.Clock) *Source {
	return &Source{family: family, clock: clock}
}

// Family returns the signal family this adapter handles.
func (s *Source) Family() Family {
	return s.family
}

// Attach starts forwarding signals to d.
func (s *Source) Attach(d Dispatcher) {
	s.mu.Lock()
	s.dispatch = d
	s.mu.Unlock()
}

// Detach stops forwarding. Safe to call on a detached source.
func (s *Source) Detach() {
	s.mu.Lock()
	s.dispatch = nil
	s.mu.Unlock()
}

// Attached reports whether a dispatcher is registered.
func (s *Source) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatch != nil
}

// Feed translates a native event into a Signal stamped with the adapter's
// clock and hands it to the dispatcher.
func (s *Source) Feed(ev RawEvent) Verdict {
	if f, ok := FamilyOf(ev.Kind); !ok || f != s.family {
		return Verdict{}
	}

	s.mu.RLock()
	d := s.dispatch
	s.mu.RUnlock()
	if d == nil {
		return Verdict{}
	}

	return d(Signal{Family: s.family, Raw: ev, At: s.clock.Now()})
}

// SourceSet holds one adapter per family and routes raw events to them.
type SourceSet struct {
	sources map[Family]EventSource
}

// NewSourceSet builds an adapter for every monitored family.
func NewSourceSet(clock clockwork.Clock) *SourceSet {
	set := &SourceSet{sources: make(map[Family]EventSource, len(Families))}
	for _, f := range Families {
		set.sources[f] = NewSource(f, clock)
	}
	return set
}

// Get returns the adapter for a family.
func (s *SourceSet) Get(f Family) EventSource {
	return s.sources[f]
}

// AttachAll attaches every adapter to d.
func (s *SourceSet) AttachAll(d Dispatcher) {
	for _, f := range Families {
		s.sources[f].Attach(d)
	}
}

// DetachAll removes every dispatcher.
func (s *SourceSet) DetachAll() {
	for _, f := range Families {
		s.sources[f].Detach()
	}
}

// AttachedCount returns how many adapters currently forward signals.
func (s *SourceSet) AttachedCount() int {
	n := 0
	for _, src := range s.sources {
		if src.Attached() {
			n++
		}
	}
	return n
}

// Feed routes a raw event to the adapter of its family.
func (s *SourceSet) Feed(ev RawEvent) Verdict {
	f, ok := FamilyOf(ev.Kind)
	if !ok {
		return Verdict{}
	}
	return s.sources[f].Feed(ev)
}
