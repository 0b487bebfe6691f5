package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	ingestTimeout = 3 * time.Second
	drainTimeout  = 5 * time.Second
)

// Recorder hands records to a Sink from a background goroutine so that the
// proctor never waits on log-write latency. Failed writes are logged and
// dropped, never retried.
type Recorder struct {
	sink    Sink
	queue   chan model.ViolationEvent
	log     zerolog.Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder creates a Recorder buffering up to size records.
func NewRecorder(sink Sink, size int, log zerolog.Logger) *Recorder {
	if size <= 0 {
		size = 1
	}
	return &Recorder{
		sink:  sink,
		queue: make(chan model.ViolationEvent, size),
		log:   log.With().Str("component", "audit_recorder").Logger(),
	}
}

// Record enqueues ev without blocking. A full buffer drops the record.
func (r *Recorder) Record(ev model.ViolationEvent) {
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		r.log.Error().
			Str("session_id", ev.SessionID.String()).
			Str("category", ev.Category).
			Msg("Audit buffer full, violation dropped")
	}
}

// Start consumes the buffer until ctx is cancelled, then drains what is
// left. Call in a goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.log.Info().Msg("Recorder started")
	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.log.Info().Msg("Recorder stopped")
			return
		case ev := <-r.queue:
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, ev model.ViolationEvent) {
	ctx, cancel := context.WithTimeout(parent, ingestTimeout)
	defer cancel()

	if err := r.sink.Ingest(ctx, ev); err != nil {
		r.failed.Add(1)
		r.log.Error().Err(err).
			Int("student_id", ev.StudentID).
			Str("category", ev.Category).
			Msg("Audit write failed, violation not persisted")
	}
}

// Dropped returns how many records were discarded on a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many sink writes returned an error.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}
