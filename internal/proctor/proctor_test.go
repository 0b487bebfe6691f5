package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Test doubles ─────────────────────────────────────────────────────

type memRecorder struct {
	mu     sync.Mutex
	events []model.ViolationEvent
}

func (r *memRecorder) Record(ev model.ViolationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *memRecorder) all() []model.ViolationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ViolationEvent(nil), r.events...)
}

func (r *memRecorder) count(c Category) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Category == string(c) {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu            sync.Mutex
	warnings      []Warning
	notices       []Notice
	terminations  []Termination
	selection     []bool
	exits         int
	fullscreenErr error
}

func (n *fakeNotifier) Warn(w Warning) {
	n.mu.Lock()
	n.warnings = append(n.warnings, w)
	n.mu.Unlock()
}

func (n *fakeNotifier) Notice(x Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *fakeNotifier) Terminated(t Termination) {
	n.mu.Lock()
	n.terminations = append(n.terminations, t)
	n.mu.Unlock()
}

func (n *fakeNotifier) SetSelection(enabled bool) {
	n.mu.Lock()
	n.selection = append(n.selection, enabled)
	n.mu.Unlock()
}

func (n *fakeNotifier) RequestFullscreen() error {
	return n.fullscreenErr
}

func (n *fakeNotifier) ExitFullscreen() {
	n.mu.Lock()
	n.exits++
	n.mu.Unlock()
}

func (n *fakeNotifier) counts() (warnings, notices, terminations int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.warnings), len(n.notices), len(n.terminations)
}

type harness struct {
	clock    *clockwork.FakeClock
	recorder *memRecorder
	notifier *fakeNotifier
	p        *Proctor
	submits  chan AutoSubmit
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		recorder: &memRecorder{},
		notifier: &fakeNotifier{},
		submits:  make(chan AutoSubmit, 8),
	}
	h.p = New(cfg, h.recorder, h.notifier, h.clock, zerolog.Nop())
	h.p.OnAutoSubmit(func(as AutoSubmit) { h.submits <- as })
	return h
}

func (h *harness) activate(question int) uuid.UUID {
	return h.p.Activate(Identity{StudentID: 42, ExamID: uuid.New(), UserAgent: "test-agent"}, question)
}

// at advances the fake clock so that it sits d after activation.
func (h *harness) at(start time.Time, d time.Duration) {
	h.clock.Advance(start.Add(d).Sub(h.clock.Now()))
}

var (
	tabHide        = RawEvent{Kind: KindVisibilityChange, Hidden: true}
	windowBlur     = RawEvent{Kind: KindBlur}
	fullscreenExit = RawEvent{Kind: KindFullscreenChange, Fullscreen: false}
	beforeUnload   = RawEvent{Kind: KindBeforeUnload}
	pageHide       = RawEvent{Kind: KindPageHide}
)

var escalatingEvents = map[Category]RawEvent{
	CategoryTabSwitch:      tabHide,
	CategoryWindowBlur:     windowBlur,
	CategoryFullscreenExit: fullscreenExit,
	CategoryUnloadAttempt:  beforeUnload,
	CategoryPageHidden:     pageHide,
}

// ─── Escalation ───────────────────────────────────────────────────────

func TestFirstEscalatingSignalWarns(t *testing.T) {
	for category, ev := range escalatingEvents {
		t.Run(string(category), func(t *testing.T) {
			h := newHarness(t)
			start := h.clock.Now()
			h.activate(1)
			h.at(start, 5*time.Second)

			v := h.p.Feed(ev)

			require.NotNil(t, v.Transition)
			assert.Equal(t, StateArmed, v.Transition.From)
			assert.Equal(t, StateWarned, v.Transition.To)
			assert.Equal(t, category, v.Category)

			events := h.recorder.all()
			require.Len(t, events, 1)
			assert.Equal(t, string(category), events[0].Category)

			warnings, _, terminations := h.notifier.counts()
			assert.Equal(t, 1, warnings)
			assert.Equal(t, 0, terminations)
			assert.Equal(t, 1, h.p.Snapshot().Warnings[category])
		})
	}
}

func TestSecondEscalatingSignalTerminatesAcrossCategories(t *testing.T) {
	for first, firstEv := range escalatingEvents {
		for second, secondEv := range escalatingEvents {
			t.Run(string(first)+"_then_"+string(second), func(t *testing.T) {
				h := newHarness(t)
				start := h.clock.Now()
				h.activate(1)
				h.at(start, 5*time.Second)

				h.p.Feed(firstEv)
				v := h.p.Feed(secondEv)

				require.NotNil(t, v.Transition)
				assert.Equal(t, StateTerminated, v.Transition.To)
				assert.Equal(t, StateTerminated, h.p.Snapshot().State)
				assert.Equal(t, 1, h.recorder.count(CategoryAutoSubmit))

				_, _, terminations := h.notifier.counts()
				assert.Equal(t, 1, terminations)
			})
		}
	}
}

func TestTerminatedIsAbsorbing(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	h.p.Feed(tabHide)
	h.p.Feed(windowBlur)
	before := len(h.recorder.all())

	for i := 0; i < 10; i++ {
		v := h.p.Feed(pageHide)
		assert.Nil(t, v.Transition)
	}

	assert.Len(t, h.recorder.all(), before)
	assert.Equal(t, 1, h.recorder.count(CategoryAutoSubmit))
	_, _, terminations := h.notifier.counts()
	assert.Equal(t, 1, terminations)
}

func TestAutoSubmitCallbackRunsOnce(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	h.p.Feed(fullscreenExit)
	h.p.Feed(tabHide)
	h.p.Feed(windowBlur)
	h.p.Feed(beforeUnload)
	assert.True(t, h.p.trigger.Pending())

	h.clock.Advance(3 * time.Second)
	select {
	case <-h.submits:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-submit callback not invoked")
	}
	assert.False(t, h.p.trigger.Pending())

	h.clock.Advance(10 * time.Second)
	select {
	case as := <-h.submits:
		t.Fatalf("callback invoked twice: %+v", as)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBlurThenTabSwitchCountsBothSignals(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	// Browsers report blur before visibilitychange when the tab is switched.
	v := h.p.Feed(windowBlur)
	require.NotNil(t, v.Transition)
	assert.Equal(t, StateWarned, v.Transition.To)

	v = h.p.Feed(tabHide)
	require.NotNil(t, v.Transition)
	assert.Equal(t, StateTerminated, v.Transition.To)
}

func TestBlurOfHiddenPageIgnored(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	h.p.Feed(tabHide)
	v := h.p.Feed(RawEvent{Kind: KindBlur, Hidden: true})

	assert.Nil(t, v.Transition)
	assert.Equal(t, StateWarned, h.p.Snapshot().State)
	assert.Zero(t, h.recorder.count(CategoryWindowBlur))
}

func TestAutoSubmitTearsDownSession(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)
	h.p.Feed(tabHide)
	h.p.Feed(tabHide)

	h.clock.Advance(3 * time.Second)
	<-h.submits

	require.Eventually(t, func() bool { return !h.p.Active() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.p.Sources().AttachedCount())
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	sessionID := h.activate(3)

	h.at(start, 5*time.Second)
	v := h.p.Feed(fullscreenExit)
	require.NotNil(t, v.Transition)
	assert.Equal(t, StateWarned, v.Transition.To)

	events := h.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, string(CategoryFullscreenExit), events[0].Category)
	assert.Equal(t, 3, events[0].QuestionNumber)
	assert.Equal(t, sessionID, events[0].SessionID)
	warnings, _, _ := h.notifier.counts()
	assert.Equal(t, 1, warnings)

	h.at(start, 6*time.Second)
	v = h.p.Feed(tabHide)
	require.NotNil(t, v.Transition)
	assert.Equal(t, StateTerminated, v.Transition.To)
	assert.Equal(t, 1, h.recorder.count(CategoryAutoSubmit))

	h.notifier.mu.Lock()
	require.Len(t, h.notifier.terminations, 1)
	assert.Equal(t, start.Add(9*time.Second), h.notifier.terminations[0].SubmitAt)
	h.notifier.mu.Unlock()

	h.at(start, 8900*time.Millisecond)
	select {
	case <-h.submits:
		t.Fatal("callback fired before the delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	h.at(start, 9*time.Second)
	select {
	case as := <-h.submits:
		assert.Equal(t, sessionID, as.SessionID)
		assert.Equal(t, 3, as.QuestionNumber)
		assert.Equal(t, start.Add(6*time.Second), as.TerminatedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-submit callback not invoked at t=9s")
	}
}

func TestPerCategoryMode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Mode = ModePerCategory })
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	v := h.p.Feed(tabHide)
	assert.Equal(t, StateWarned, v.Transition.To)
	v = h.p.Feed(fullscreenExit)
	assert.Equal(t, StateWarned, v.Transition.To)
	assert.Equal(t, StateWarned, h.p.Snapshot().State)

	v = h.p.Feed(tabHide)
	require.NotNil(t, v.Transition)
	assert.Equal(t, StateTerminated, v.Transition.To)
}

// ─── Grace window ─────────────────────────────────────────────────────

func TestGraceWindowBoundaries(t *testing.T) {
	tests := []struct {
		name       string
		ev         RawEvent
		at         time.Duration
		classified bool
	}{
		{"fullscreen exit at 0.9s", fullscreenExit, 900 * time.Millisecond, false},
		{"fullscreen exit at 1.1s", fullscreenExit, 1100 * time.Millisecond, true},
		{"tab hide at 2.9s", tabHide, 2900 * time.Millisecond, false},
		{"tab hide at 3.1s", tabHide, 3100 * time.Millisecond, true},
		{"window blur at 2.9s", windowBlur, 2900 * time.Millisecond, false},
		{"page hide at 3.1s", pageHide, 3100 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			start := h.clock.Now()
			h.activate(1)
			h.at(start, tt.at)

			v := h.p.Feed(tt.ev)

			if tt.classified {
				require.NotNil(t, v.Transition)
				assert.Len(t, h.recorder.all(), 1)
			} else {
				assert.Nil(t, v.Transition)
				assert.Empty(t, h.recorder.all())
				assert.Equal(t, StateArmed, h.p.Snapshot().State)
			}
		})
	}
}

func TestGraceIsNotRenewed(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 4*time.Second)

	// Re-entering fullscreen must not reopen the window.
	h.p.Feed(RawEvent{Kind: KindFullscreenChange, Fullscreen: true})
	h.clock.Advance(100 * time.Millisecond)

	v := h.p.Feed(fullscreenExit)
	require.NotNil(t, v.Transition)
}

// ─── Blocking-only ────────────────────────────────────────────────────

func TestBlockingOnlyNeverEscalates(t *testing.T) {
	h := newHarness(t)
	h.activate(1)

	blocked := []RawEvent{
		{Kind: KindContextMenu},
		{Kind: KindCopy},
		{Kind: KindPaste},
		{Kind: KindCut},
		{Kind: KindKeyDown, Key: "c", Ctrl: true},
		{Kind: KindKeyDown, Key: "F12"},
	}

	// Inside the grace window on purpose: prevention does not wait for it.
	const rounds = 50
	for i := 0; i < rounds; i++ {
		for _, ev := range blocked {
			v := h.p.Feed(ev)
			assert.True(t, v.Prevent)
			assert.Nil(t, v.Transition)
		}
	}

	snap := h.p.Snapshot()
	assert.Equal(t, StateArmed, snap.State)
	assert.Empty(t, snap.Warnings)
	assert.Len(t, h.recorder.all(), rounds*len(blocked))

	warnings, notices, terminations := h.notifier.counts()
	assert.Equal(t, 0, warnings)
	assert.Equal(t, rounds*len(blocked), notices)
	assert.Equal(t, 0, terminations)
}

func TestKeyboardShortcutDescriptionCarriesCombo(t *testing.T) {
	h := newHarness(t)
	h.activate(2)

	h.p.Feed(RawEvent{Kind: KindKeyDown, Key: "I", Ctrl: true, Shift: true})

	events := h.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, string(CategoryKeyboardShortcut), events[0].Category)
	assert.Contains(t, events[0].Description, "Ctrl+Shift+I")
}

func TestBlockingOnlyPreventedAfterTermination(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)
	h.p.Feed(tabHide)
	h.p.Feed(tabHide)
	before := len(h.recorder.all())

	v := h.p.Feed(RawEvent{Kind: KindPaste})
	assert.True(t, v.Prevent)
	assert.Len(t, h.recorder.all(), before)
}

func TestDragAndDropPreventedWithoutRecord(t *testing.T) {
	h := newHarness(t)
	h.activate(1)

	assert.True(t, h.p.Feed(RawEvent{Kind: KindDragStart}).Prevent)
	assert.True(t, h.p.Feed(RawEvent{Kind: KindDrop}).Prevent)
	assert.Empty(t, h.recorder.all())
}

// ─── Host surface ─────────────────────────────────────────────────────

func TestDeactivateTwiceLeavesNoListeners(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	assert.Equal(t, len(Families), h.p.Sources().AttachedCount())

	h.p.Deactivate()
	assert.NotPanics(t, h.p.Deactivate)
	assert.Equal(t, 0, h.p.Sources().AttachedCount())
	assert.False(t, h.p.Active())

	h.at(start, 10*time.Second)
	for _, ev := range escalatingEvents {
		assert.Equal(t, Verdict{}, h.p.Feed(ev))
	}
	assert.Equal(t, Verdict{}, h.p.Feed(RawEvent{Kind: KindCopy}))
	assert.Empty(t, h.recorder.all())

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Equal(t, []bool{false, true}, h.notifier.selection)
	assert.Equal(t, 1, h.notifier.exits)
}

func TestActivateResetsState(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	first := h.activate(1)
	h.at(start, 5*time.Second)
	h.p.Feed(tabHide)
	require.Equal(t, StateWarned, h.p.Snapshot().State)

	second := h.activate(1)
	assert.NotEqual(t, first, second)

	snap := h.p.Snapshot()
	assert.Equal(t, StateArmed, snap.State)
	assert.Empty(t, snap.Warnings)

	// A fresh grace window applies to the new activation.
	assert.Nil(t, h.p.Feed(tabHide).Transition)
}

func TestRecordQuestionNumber(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()
	h.activate(1)
	h.p.Feed(RawEvent{Kind: KindCopy})

	h.p.RecordQuestionNumber(7)
	h.at(start, 5*time.Second)
	h.p.Feed(tabHide)

	events := h.recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].QuestionNumber)
	assert.Equal(t, 7, events[1].QuestionNumber)
	assert.Equal(t, StateWarned, h.p.Snapshot().State)
}

func TestFullscreenFailureDoesNotBlockActivation(t *testing.T) {
	h := newHarness(t)
	h.notifier.fullscreenErr = errors.New("fullscreen not supported")

	h.activate(1)

	assert.True(t, h.p.Active())
	assert.Equal(t, len(Families), h.p.Sources().AttachedCount())
	h.p.ReportFullscreenUnavailable("permission denied")
	assert.True(t, h.p.Active())
}

type fakeWarningStore struct {
	saved chan map[Category]int
}

func (s *fakeWarningStore) SaveWarnings(_ context.Context, _ Identity, _ uuid.UUID, counts map[Category]int) error {
	s.saved <- counts
	return nil
}

func TestWarningCountsPersisted(t *testing.T) {
	h := newHarness(t)
	store := &fakeWarningStore{saved: make(chan map[Category]int, 1)}
	h.p.SetWarningStore(store)
	start := h.clock.Now()
	h.activate(1)
	h.at(start, 5*time.Second)

	h.p.Feed(windowBlur)

	select {
	case counts := <-store.saved:
		assert.Equal(t, map[Category]int{CategoryWindowBlur: 1}, counts)
	case <-time.After(time.Second):
		t.Fatal("warning counts not persisted")
	}
}
