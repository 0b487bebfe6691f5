package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const warningsTTL = 24 * time.Hour

// ErrProctorNotLive is returned when a beacon arrives for an attempt with no
// live or lingering proctor.
var ErrProctorNotLive = fmt.Errorf("no live proctoring session")

type liveKey struct {
	examID    uuid.UUID
	studentID int
}

// ProctorService owns the live proctors, one per connected attempt.
type ProctorService struct {
	cfg      proctor.Config
	recorder proctor.Recorder
	rdb      redis.Cmdable
	clock    clockwork.Clock
	linger   time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	live map[liveKey]*proctor.Proctor
}

// NewProctorService creates a new ProctorService. linger is how long a
// released attempt keeps accepting beacons after its socket drops.
func NewProctorService(cfg proctor.Config, recorder proctor.Recorder, rdb redis.Cmdable, clock clockwork.Clock, linger time.Duration, log zerolog.Logger) *ProctorService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProctorService{
		cfg:      cfg,
		recorder: recorder,
		rdb:      rdb,
		clock:    clock,
		linger:   linger,
		log:      log,
		live:     make(map[liveKey]*proctor.Proctor),
	}
}

// Open activates a proctor for the attempt and registers it. A proctor
// already registered for the same attempt is deactivated and replaced.
func (s *ProctorService) Open(id proctor.Identity, question int, notifier proctor.Notifier, onAutoSubmit func(proctor.AutoSubmit)) (*proctor.Proctor, uuid.UUID) {
	p := proctor.New(s.cfg, s.recorder, notifier, s.clock, s.log)
	if s.rdb != nil {
		p.SetWarningStore(s)
	}
	p.OnAutoSubmit(onAutoSubmit)

	key := liveKey{examID: id.ExamID, studentID: id.StudentID}
	s.mu.Lock()
	prev := s.live[key]
	s.live[key] = p
	s.mu.Unlock()

	if prev != nil {
		prev.Deactivate()
	}
	return p, p.Activate(id, question)
}

// Close deactivates p and unregisters it if it is still the live proctor
// for the attempt.
func (s *ProctorService) Close(id proctor.Identity, p *proctor.Proctor) {
	p.Deactivate()

	key := liveKey{examID: id.ExamID, studentID: id.StudentID}
	s.mu.Lock()
	if s.live[key] == p {
		delete(s.live, key)
	}
	s.mu.Unlock()
}

// Release keeps p registered and active for the linger window, so signals
// posted by an unloading page still reach it, then closes it. A pending
// auto-submit still fires during or after the window.
func (s *ProctorService) Release(id proctor.Identity, p *proctor.Proctor) {
	if s.linger <= 0 {
		s.Close(id, p)
		return
	}
	s.clock.AfterFunc(s.linger, func() {
		s.Close(id, p)
	})
}

// Lookup returns the live proctor for an attempt.
func (s *ProctorService) Lookup(examID uuid.UUID, studentID int) (*proctor.Proctor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live[liveKey{examID: examID, studentID: studentID}]
	return p, ok
}

// LiveCount returns how many attempts are being proctored.
func (s *ProctorService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// FeedBeacon routes beacon events to the live proctor of the attempt. The
// session ID must match the current activation.
func (s *ProctorService) FeedBeacon(examID uuid.UUID, studentID int, sessionID uuid.UUID, events []proctor.RawEvent) ([]proctor.Verdict, error) {
	p, ok := s.Lookup(examID, studentID)
	if !ok {
		return nil, ErrProctorNotLive
	}
	if snap := p.Snapshot(); !snap.Active || snap.SessionID != sessionID {
		return nil, ErrProctorNotLive
	}

	verdicts := make([]proctor.Verdict, 0, len(events))
	for _, ev := range events {
		verdicts = append(verdicts, p.Feed(ev))
	}
	return verdicts, nil
}

// SaveWarnings writes the attempt's warning counts to Redis for the monitor.
func (s *ProctorService) SaveWarnings(ctx context.Context, id proctor.Identity, sessionID uuid.UUID, counts map[proctor.Category]int) error {
	key := config.CacheKey.StudentWarningsKey(id.ExamID.String(), id.StudentID)
	fields := make(map[string]interface{}, len(counts)+1)
	for c, n := range counts {
		fields[string(c)] = n
	}
	fields["session_id"] = sessionID.String()

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, warningsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save warnings: %w", err)
	}
	return nil
}

// Config returns the proctor configuration in effect.
func (s *ProctorService) Config() proctor.Config {
	return s.cfg
}
