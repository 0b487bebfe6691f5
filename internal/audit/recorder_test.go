package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(category string) model.ViolationEvent {
	return model.ViolationEvent{
		SessionID:      uuid.New(),
		ExamID:         uuid.New(),
		StudentID:      7,
		Category:       category,
		Description:    "test",
		QuestionNumber: 2,
		UserAgent:      "test-agent",
		RecordedAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

type failingSink struct{}

func (failingSink) Ingest(context.Context, model.ViolationEvent) error {
	return errors.New("sink down")
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Ingest(ctx context.Context, _ model.ViolationEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestRecorderDeliversInOrder(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, 16, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Start(ctx)

	rec.Record(sampleEvent("tab_switch"))
	rec.Record(sampleEvent("auto_submit"))

	require.Eventually(t, func() bool { return sink.Count() == 2 }, time.Second, 5*time.Millisecond)
	records := sink.Records()
	assert.Equal(t, "tab_switch", records[0].Category)
	assert.Equal(t, "auto_submit", records[1].Category)
}

func TestRecorderNeverBlocksOnFullBuffer(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	defer close(sink.release)
	rec := NewRecorder(sink, 2, zerolog.Nop())

	// No consumer running: the buffer fills and the rest is dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			rec.Record(sampleEvent("clipboard_copy"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}
	assert.Equal(t, int64(8), rec.Dropped())
}

func TestRecorderLogsAndContinuesOnSinkFailure(t *testing.T) {
	rec := NewRecorder(failingSink{}, 4, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Start(ctx)

	rec.Record(sampleEvent("right_click"))
	rec.Record(sampleEvent("right_click"))

	require.Eventually(t, func() bool { return rec.Failed() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, 8, zerolog.Nop())

	for i := 0; i < 5; i++ {
		rec.Record(sampleEvent("page_hidden"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stopped := make(chan struct{})
	go func() {
		rec.Start(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.Equal(t, 5, sink.Count())
}

func TestFanoutJoinsErrors(t *testing.T) {
	mem := NewMemorySink()
	f := Fanout{failingSink{}, mem}

	err := f.Ingest(context.Background(), sampleEvent("window_blur"))

	assert.Error(t, err)
	assert.Equal(t, 1, mem.Count())
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysBySession(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{w: w}
	ev := sampleEvent("fullscreen_exit")

	require.NoError(t, sink.Ingest(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, ev.SessionID.String(), string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"category":"fullscreen_exit"`)
	assert.Equal(t, ev.RecordedAt, w.msgs[0].Time)

	w.err = errors.New("broker unavailable")
	assert.Error(t, sink.Ingest(context.Background(), ev))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}
