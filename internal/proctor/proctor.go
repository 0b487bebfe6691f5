// Package proctor watches one quiz attempt for cheating signals, warns once
// and force-submits the attempt on the next escalating violation.
package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const warningStoreTimeout = 2 * time.Second

// Messages holds the user-facing texts. Each takes one %s argument: the
// category label for Warning and Notice, the trigger reason for Terminated.
type Messages struct {
	Warning    string
	Notice     string
	Terminated string
}

// Config tunes grace windows, the auto-submit delay and escalation.
type Config struct {
	ShortGrace      time.Duration
	LongGrace       time.Duration
	AutoSubmitDelay time.Duration
	Mode            EscalationMode
	Messages        Messages
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ShortGrace:      time.Second,
		LongGrace:       3 * time.Second,
		AutoSubmitDelay: 3 * time.Second,
		Mode:            ModeGlobal,
		Messages: Messages{
			Warning:    "%s detected. One more violation will automatically submit your quiz.",
			Notice:     "%s is not allowed during the quiz.",
			Terminated: "Your quiz has been automatically submitted. Reason: %s",
		},
	}
}

// Identity names the participant and attempt being proctored.
type Identity struct {
	StudentID int
	ExamID    uuid.UUID
	UserAgent string
}

// AutoSubmit is handed to the host once the termination delay elapses.
type AutoSubmit struct {
	SessionID      uuid.UUID
	Identity       Identity
	Reason         string
	QuestionNumber int
	TerminatedAt   time.Time
}

// Recorder accepts audit records. It must not block.
type Recorder interface {
	Record(ev model.ViolationEvent)
}

// WarningStore persists per-category warning counts for the live monitor.
type WarningStore interface {
	SaveWarnings(ctx context.Context, id Identity, sessionID uuid.UUID, counts map[Category]int) error
}

// Snapshot is a read-only view of the current session.
type Snapshot struct {
	Active         bool
	SessionID      uuid.UUID
	ActivatedAt    time.Time
	QuestionNumber int
	State          State
	Warnings       map[Category]int
}

// session is the ProctoringSession owned by one activation.
type session struct {
	active         bool
	id             uuid.UUID
	identity       Identity
	questionNumber int
	policy         *Policy
	grace          GraceWindow
}

// Proctor is the host integration surface. Signals may arrive from several
// goroutines; every transition runs under one lock so signals are applied
// in arrival order, one at a time.
type Proctor struct {
	cfg      Config
	clock    clockwork.Clock
	recorder Recorder
	notifier Notifier
	log      zerolog.Logger

	sources *SourceSet
	trigger *AutoSubmitTrigger

	mu           sync.Mutex
	sess         session
	generation   uint64
	onAutoSubmit func(AutoSubmit)
	store        WarningStore
}

// New creates an inactive proctor.
func New(cfg Config, recorder Recorder, notifier Notifier, clock clockwork.Clock, log zerolog.Logger) *Proctor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Proctor{
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
		notifier: notifier,
		log:      log.With().Str("component", "proctor").Logger(),
		sources:  NewSourceSet(clock),
		trigger:  NewAutoSubmitTrigger(clock, cfg.AutoSubmitDelay),
	}
}

// SetWarningStore registers where warning counts are persisted.
func (p *Proctor) SetWarningStore(s WarningStore) {
	p.mu.Lock()
	p.store = s
	p.mu.Unlock()
}

// OnAutoSubmit registers the completion callback. It runs at most once per
// activation, on the trigger's goroutine, outside the proctor lock.
func (p *Proctor) OnAutoSubmit(cb func(AutoSubmit)) {
	p.mu.Lock()
	p.onAutoSubmit = cb
	p.mu.Unlock()
}

// Activate starts proctoring an attempt and returns the per-activation
// session identifier. An already active session is torn down first.
func (p *Proctor) Activate(id Identity, questionNumber int) uuid.UUID {
	p.mu.Lock()
	wasActive := p.teardownLocked()

	now := p.clock.Now()
	p.generation++
	p.sess = session{
		active:         true,
		id:             uuid.New(),
		identity:       id,
		questionNumber: questionNumber,
		policy:         NewPolicy(p.cfg.Mode),
		grace:          NewGraceWindow(now, p.cfg.ShortGrace, p.cfg.LongGrace),
	}
	sessionID := p.sess.id
	p.sources.AttachAll(p.dispatch)
	p.mu.Unlock()

	if wasActive {
		p.log.Warn().Int("student_id", id.StudentID).Msg("Re-activated over a live session")
	}

	p.notifier.SetSelection(false)
	if err := p.notifier.RequestFullscreen(); err != nil {
		p.log.Warn().Err(err).Msg("Fullscreen request failed, continuing without fullscreen enforcement")
	}

	p.log.Info().
		Int("student_id", id.StudentID).
		Str("exam_id", id.ExamID.String()).
		Str("session_id", sessionID.String()).
		Int("question", questionNumber).
		Msg("Proctoring activated")

	return sessionID
}

// Deactivate detaches every adapter, restores the document and clears the
// session. Calling it on an inactive proctor does nothing.
func (p *Proctor) Deactivate() {
	p.mu.Lock()
	sessionID := p.sess.id
	wasActive := p.teardownLocked()
	p.mu.Unlock()

	if !wasActive {
		return
	}

	p.notifier.SetSelection(true)
	p.notifier.ExitFullscreen()
	p.log.Info().Str("session_id", sessionID.String()).Msg("Proctoring deactivated")
}

// teardownLocked removes listeners before the state they feed is cleared.
func (p *Proctor) teardownLocked() bool {
	p.sources.DetachAll()
	wasActive := p.sess.active
	p.sess = session{}
	return wasActive
}

// RecordQuestionNumber sets the question number attached to later events.
func (p *Proctor) RecordQuestionNumber(n int) {
	p.mu.Lock()
	if p.sess.active {
		p.sess.questionNumber = n
	}
	p.mu.Unlock()
}

// ReportFullscreenUnavailable records that the client could not enter
// fullscreen. Proctoring continues without fullscreen enforcement.
func (p *Proctor) ReportFullscreenUnavailable(reason string) {
	p.mu.Lock()
	sessionID := p.sess.id
	active := p.sess.active
	p.mu.Unlock()
	if !active {
		return
	}
	p.log.Warn().Str("session_id", sessionID.String()).Str("reason", reason).Msg("Fullscreen unavailable on client")
}

// Feed hands a native event to the adapter of its family.
func (p *Proctor) Feed(ev RawEvent) Verdict {
	return p.sources.Feed(ev)
}

// Sources exposes the adapters, mainly for inspection.
func (p *Proctor) Sources() *SourceSet {
	return p.sources
}

// Active reports whether an attempt is being proctored.
func (p *Proctor) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.active
}

// Snapshot returns the current session state.
func (p *Proctor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sess.active {
		return Snapshot{State: StateArmed, Warnings: map[Category]int{}}
	}
	return Snapshot{
		Active:         true,
		SessionID:      p.sess.id,
		ActivatedAt:    p.sess.grace.ActivatedAt(),
		QuestionNumber: p.sess.questionNumber,
		State:          p.sess.policy.State(),
		Warnings:       p.sess.policy.WarningCounts(),
	}
}

// effects are applied after the lock is released.
type effects struct {
	events      []model.ViolationEvent
	warning     *Warning
	notice      *Notice
	termination *Termination
	warnings    map[Category]int
	store       WarningStore
	identity    Identity
	sessionID   uuid.UUID
}

func (p *Proctor) dispatch(sig Signal) Verdict {
	p.mu.Lock()

	if !p.sess.active {
		p.mu.Unlock()
		return Verdict{}
	}
	if p.sess.grace.Suppresses(sig.Family, sig.At) {
		p.mu.Unlock()
		p.log.Debug().Str("kind", string(sig.Raw.Kind)).Msg("Signal inside grace window, discarded")
		return Verdict{}
	}

	cls := Classify(sig)
	v := Verdict{Prevent: cls.Prevent, Category: cls.Category}
	if !cls.Violation() || p.sess.policy.State() == StateTerminated {
		p.mu.Unlock()
		return v
	}

	fx := effects{identity: p.sess.identity, sessionID: p.sess.id}

	if cls.Category.BlockingOnly() {
		fx.events = append(fx.events, p.newEventLocked(cls.Category, cls.Description, sig.At))
		fx.notice = &Notice{
			Category: cls.Category,
			Message:  fmt.Sprintf(p.cfg.Messages.Notice, cls.Category.Label()),
		}
		p.mu.Unlock()
		p.apply(fx)
		return v
	}

	tr, ok := p.sess.policy.Escalate(cls.Category)
	if !ok {
		p.mu.Unlock()
		return v
	}
	v.Transition = &tr
	fx.events = append(fx.events, p.newEventLocked(cls.Category, cls.Description, sig.At))

	switch tr.To {
	case StateWarned:
		fx.warning = &Warning{
			Category: cls.Category,
			Message:  fmt.Sprintf(p.cfg.Messages.Warning, cls.Category.Label()),
			Warnings: tr.Warnings,
		}
		fx.warnings = p.sess.policy.WarningCounts()
		fx.store = p.store

	case StateTerminated:
		reason := cls.Description
		fx.events = append(fx.events, p.newEventLocked(CategoryAutoSubmit, "Auto-submitted: "+reason, sig.At))

		as := AutoSubmit{
			SessionID:      p.sess.id,
			Identity:       p.sess.identity,
			Reason:         reason,
			QuestionNumber: p.sess.questionNumber,
			TerminatedAt:   sig.At,
		}
		gen := p.generation
		submitAt := p.trigger.Schedule(func() { p.fire(gen, as) })
		fx.termination = &Termination{
			Reason:   reason,
			Message:  fmt.Sprintf(p.cfg.Messages.Terminated, reason),
			SubmitAt: submitAt,
		}
	}
	p.mu.Unlock()

	p.apply(fx)
	return v
}

func (p *Proctor) newEventLocked(c Category, description string, at time.Time) model.ViolationEvent {
	return model.ViolationEvent{
		SessionID:      p.sess.id,
		ExamID:         p.sess.identity.ExamID,
		StudentID:      p.sess.identity.StudentID,
		Category:       string(c),
		Description:    description,
		QuestionNumber: p.sess.questionNumber,
		UserAgent:      p.sess.identity.UserAgent,
		RecordedAt:     at,
	}
}

func (p *Proctor) apply(fx effects) {
	if p.recorder != nil {
		for _, ev := range fx.events {
			p.recorder.Record(ev)
		}
	}

	switch {
	case fx.notice != nil:
		p.notifier.Notice(*fx.notice)
	case fx.warning != nil:
		p.log.Info().
			Str("session_id", fx.sessionID.String()).
			Str("category", string(fx.warning.Category)).
			Msg("Violation warning issued")
		p.notifier.Warn(*fx.warning)
	case fx.termination != nil:
		p.log.Warn().
			Str("session_id", fx.sessionID.String()).
			Str("reason", fx.termination.Reason).
			Time("submit_at", fx.termination.SubmitAt).
			Msg("Attempt terminated, auto-submit scheduled")
		p.notifier.Terminated(*fx.termination)
	}

	if fx.store != nil && fx.warnings != nil {
		go p.saveWarnings(fx.store, fx.identity, fx.sessionID, fx.warnings)
	}
}

func (p *Proctor) saveWarnings(store WarningStore, id Identity, sessionID uuid.UUID, counts map[Category]int) {
	ctx, cancel := context.WithTimeout(context.Background(), warningStoreTimeout)
	defer cancel()
	if err := store.SaveWarnings(ctx, id, sessionID, counts); err != nil {
		p.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to persist warning counts")
	}
}

// fire runs when the auto-submit delay elapses. The session it belonged to
// is torn down unless the host already started a new activation.
func (p *Proctor) fire(gen uint64, as AutoSubmit) {
	p.mu.Lock()
	cb := p.onAutoSubmit
	p.mu.Unlock()

	p.log.Info().Str("session_id", as.SessionID.String()).Msg("Auto-submit delay elapsed, handing attempt to host")
	if cb != nil {
		cb(as)
	}

	p.mu.Lock()
	current := p.generation == gen && p.sess.active
	wasActive := false
	if current {
		wasActive = p.teardownLocked()
	}
	p.mu.Unlock()

	if wasActive {
		p.notifier.SetSelection(true)
		p.notifier.ExitFullscreen()
	}
}
