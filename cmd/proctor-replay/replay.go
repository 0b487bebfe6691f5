package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/audit"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// replayEpoch anchors the fake clock so output is reproducible.
var replayEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// step is one line of a replay script. AtMS is the offset from activation.
//
//	{"at_ms": 5000, "event": {"kind": "visibilitychange", "hidden": true}}
//	{"at_ms": 6000, "question": 4}
type step struct {
	AtMS     int64             `json:"at_ms"`
	Event    *proctor.RawEvent `json:"event,omitempty"`
	Question int               `json:"question,omitempty"`
}

// outcome is what one event produced.
type outcome struct {
	At       time.Duration
	Kind     proctor.Kind
	Prevent  bool
	Category proctor.Category
	State    proctor.State
}

// result summarizes a replay.
type result struct {
	Outcomes   []outcome
	Records    []model.ViolationEvent
	Final      proctor.State
	AutoSubmit *proctor.AutoSubmit
}

func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var s step
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.Event == nil && s.Question == 0 {
			return nil, fmt.Errorf("line %d: step needs an event or a question", line)
		}
		if n := len(steps); n > 0 && s.AtMS < steps[n-1].AtMS {
			return nil, fmt.Errorf("line %d: at_ms goes backwards", line)
		}
		steps = append(steps, s)
	}
	return steps, sc.Err()
}

// terminationWatch captures the scheduled auto-submit time.
type terminationWatch struct {
	proctor.NopNotifier
	mu       sync.Mutex
	submitAt time.Time
}

func (w *terminationWatch) Terminated(t proctor.Termination) {
	w.mu.Lock()
	w.submitAt = t.SubmitAt
	w.mu.Unlock()
}

func (w *terminationWatch) due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.submitAt.IsZero() && !now.Before(w.submitAt)
}

// replay drives a proctor through steps on a fake clock. After the last
// step the clock runs on long enough for a pending auto-submit to fire.
func replay(cfg proctor.Config, steps []step, log zerolog.Logger) (*result, error) {
	clock := clockwork.NewFakeClockAt(replayEpoch)
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink, 1024, log)

	ctx, cancel := context.WithCancel(context.Background())
	recorderDone := make(chan struct{})
	go func() {
		recorder.Start(ctx)
		close(recorderDone)
	}()

	watch := &terminationWatch{}
	submitted := make(chan proctor.AutoSubmit, 1)
	p := proctor.New(cfg, recorder, watch, clock, log)
	p.OnAutoSubmit(func(as proctor.AutoSubmit) { submitted <- as })
	p.Activate(proctor.Identity{StudentID: 1, ExamID: uuid.Nil, UserAgent: "proctor-replay"}, 1)

	res := &result{}
	advanceTo := func(offset time.Duration) error {
		if d := replayEpoch.Add(offset).Sub(clock.Now()); d > 0 {
			clock.Advance(d)
		}
		if res.AutoSubmit == nil && watch.due(clock.Now()) {
			select {
			case as := <-submitted:
				res.AutoSubmit = &as
			case <-time.After(2 * time.Second):
				return fmt.Errorf("auto-submit did not fire at %s", offset)
			}
			for i := 0; p.Active() && i < 200; i++ {
				time.Sleep(5 * time.Millisecond)
			}
		}
		return nil
	}

	for _, s := range steps {
		offset := time.Duration(s.AtMS) * time.Millisecond
		if err := advanceTo(offset); err != nil {
			cancel()
			return nil, err
		}
		if s.Question > 0 {
			p.RecordQuestionNumber(s.Question)
		}
		if s.Event == nil {
			continue
		}
		v := p.Feed(*s.Event)
		out := outcome{At: offset, Kind: s.Event.Kind, Prevent: v.Prevent, Category: v.Category, State: p.Snapshot().State}
		if v.Transition != nil {
			out.State = v.Transition.To
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	if p.Snapshot().State == proctor.StateTerminated {
		if err := advanceTo(clock.Since(replayEpoch) + cfg.AutoSubmitDelay); err != nil {
			cancel()
			return nil, err
		}
	}
	res.Final = p.Snapshot().State
	if res.AutoSubmit != nil {
		res.Final = proctor.StateTerminated
	}
	p.Deactivate()

	cancel()
	<-recorderDone
	res.Records = sink.Records()
	return res, nil
}
