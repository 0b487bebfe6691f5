package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fakeSessions struct {
	mu      sync.Mutex
	saved   map[uuid.UUID]string
	reasons []model.SubmitReason
	submits chan model.SubmitReason
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: map[uuid.UUID]string{}, submits: make(chan model.SubmitReason, 4)}
}

func (f *fakeSessions) VerifyActiveSession(context.Context, uuid.UUID, int) error { return nil }

func (f *fakeSessions) Autosave(_ context.Context, _ uuid.UUID, _ int, qid uuid.UUID, ans string) error {
	f.mu.Lock()
	f.saved[qid] = ans
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) Submit(_ context.Context, _ uuid.UUID, _ int, reason model.SubmitReason) (*service.SubmitResult, error) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	f.submits <- reason
	return &service.SubmitResult{Score: 75, Correct: 3, Total: 4, Reason: reason}, nil
}

type wsHarness struct {
	clock    *clockwork.FakeClock
	sessions *fakeSessions
	proctors *service.ProctorService
	examID   uuid.UUID
	srv      *httptest.Server
}

func asStudent(id int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: id})
		c.Next()
	}
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		sessions: newFakeSessions(),
		examID:   uuid.New(),
	}
	h.proctors = service.NewProctorService(proctor.DefaultConfig(), nil, nil, h.clock, 10*time.Second, zerolog.Nop())

	r := gin.New()
	r.GET("/ws/:exam_id", asStudent(7), NewWSHandler(h.sessions, h.proctors, zerolog.Nop(), nil).ProctorStream)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/" + h.examID.String() + "?question=3"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"User-Agent": []string{"test-agent"}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads events until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, event ws.Event) map[string]interface{} {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m map[string]interface{}
		require.NoError(t, conn.ReadJSON(&m))
		if m["event"] == string(event) {
			return m
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, req ws.RequestPayload) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func hidden(seq int64) ws.RequestPayload {
	return ws.RequestPayload{Action: ws.ActionSignal, Seq: seq, Event: &proctor.RawEvent{Kind: proctor.KindVisibilityChange, Hidden: true}}
}

func TestProctorStreamWarnsThenAutoSubmits(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	activated := next(t, conn, ws.EventActivated)
	assert.NotEmpty(t, activated["session_id"])
	assert.EqualValues(t, 3000, activated["auto_submit_delay_ms"])

	p, ok := h.proctors.Lookup(h.examID, 7)
	require.True(t, ok)
	assert.Equal(t, 3, p.Snapshot().QuestionNumber)

	h.clock.Advance(5 * time.Second)
	send(t, conn, hidden(1))
	warning := next(t, conn, ws.EventWarning)
	assert.Equal(t, "tab_switch", warning["category"])
	verdict := next(t, conn, ws.EventVerdict)
	assert.EqualValues(t, 1, verdict["seq"])
	assert.Equal(t, "warned", verdict["state"])

	send(t, conn, ws.RequestPayload{Action: ws.ActionSignal, Seq: 2, Event: &proctor.RawEvent{Kind: proctor.KindBlur}})
	next(t, conn, ws.EventTerminated)
	verdict = next(t, conn, ws.EventVerdict)
	assert.Equal(t, "terminated", verdict["state"])

	h.clock.Advance(3 * time.Second)
	select {
	case reason := <-h.sessions.submits:
		assert.Equal(t, model.SubmitReasonAutoSubmit, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-submit did not reach the session service")
	}

	done := next(t, conn, ws.EventAutoSubmitted)
	assert.EqualValues(t, 75, done["score"])

	require.Eventually(t, func() bool { return h.proctors.LiveCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestProctorStreamManualSubmitBeatsAutoSubmit(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	next(t, conn, ws.EventActivated)

	h.clock.Advance(5 * time.Second)
	send(t, conn, hidden(1))
	next(t, conn, ws.EventVerdict)
	send(t, conn, hidden(2))
	next(t, conn, ws.EventTerminated)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSubmit})
	graded := next(t, conn, ws.EventGraded)
	assert.Equal(t, "completed", graded["status"])
	assert.Equal(t, model.SubmitReasonManual, <-h.sessions.submits)

	// The trigger still fires but must not grade twice.
	h.clock.Advance(3 * time.Second)
	select {
	case reason := <-h.sessions.submits:
		t.Fatalf("unexpected second submit: %s", reason)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProctorStreamAutosaveAndPing(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	next(t, conn, ws.EventActivated)

	qid := uuid.New()
	send(t, conn, ws.RequestPayload{Action: ws.ActionAutosave, QID: qid.String(), Answer: "B"})
	assert.Equal(t, "saved", next(t, conn, ws.EventSuccess)["status"])

	send(t, conn, ws.RequestPayload{Action: ws.ActionAutosave, QID: "not-a-uuid", Answer: "B"})
	assert.Equal(t, "invalid q_id format", next(t, conn, ws.EventError)["error"])

	send(t, conn, ws.RequestPayload{Action: ws.ActionPing})
	next(t, conn, ws.EventPong)

	h.sessions.mu.Lock()
	assert.Equal(t, "B", h.sessions.saved[qid])
	h.sessions.mu.Unlock()
}

func TestProctorStreamDisconnectDeactivates(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	next(t, conn, ws.EventActivated)

	p, ok := h.proctors.Lookup(h.examID, 7)
	require.True(t, ok)

	conn.Close()
	waitForTimers(t, h.clock, 1)
	assert.True(t, p.Active(), "released proctor lingers for beacons")
	assert.Equal(t, 1, h.proctors.LiveCount())

	h.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return !p.Active() }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Sources().AttachedCount())
	require.Eventually(t, func() bool { return h.proctors.LiveCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestProctorStreamBeaconAfterDisconnectAutoSubmits(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	activated := next(t, conn, ws.EventActivated)
	sessionID := uuid.MustParse(activated["session_id"].(string))

	h.clock.Advance(5 * time.Second)
	send(t, conn, hidden(1))
	next(t, conn, ws.EventVerdict)

	conn.Close()
	waitForTimers(t, h.clock, 1)

	verdicts, err := h.proctors.FeedBeacon(h.examID, 7, sessionID, []proctor.RawEvent{{Kind: proctor.KindPageHide}})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.NotNil(t, verdicts[0].Transition)
	assert.Equal(t, proctor.StateTerminated, verdicts[0].Transition.To)

	h.clock.Advance(3 * time.Second)
	select {
	case reason := <-h.sessions.submits:
		assert.Equal(t, model.SubmitReasonAutoSubmit, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("beacon termination did not auto-submit")
	}
}

// waitForTimers blocks until n timers are registered on the fake clock.
func waitForTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestPostSignals(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	proctors := service.NewProctorService(proctor.DefaultConfig(), nil, nil, clock, 10*time.Second, zerolog.Nop())
	examID := uuid.New()

	r := gin.New()
	r.POST("/exams/:exam_id/signals", asStudent(7), NewSignalHandler(proctors, zerolog.Nop()).PostSignals)

	post := func(body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/exams/"+examID.String()+"/signals", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	beacon := func(sessionID uuid.UUID) map[string]interface{} {
		return map[string]interface{}{
			"session_id": sessionID.String(),
			"events":     []map[string]interface{}{{"kind": "pagehide"}},
		}
	}

	t.Run("validation", func(t *testing.T) {
		w := post(map[string]interface{}{"session_id": "x", "events": []interface{}{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown event kind", func(t *testing.T) {
		w := post(map[string]interface{}{
			"session_id": uuid.NewString(),
			"events":     []map[string]interface{}{{"kind": "mousemove"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "not a monitored event kind")
	})

	t.Run("no live proctor", func(t *testing.T) {
		w := post(beacon(uuid.New()))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	_, sessionID := proctors.Open(proctor.Identity{StudentID: 7, ExamID: examID}, 1, nil, nil)
	clock.Advance(5 * time.Second)

	t.Run("live proctor", func(t *testing.T) {
		w := post(beacon(sessionID))
		require.Equal(t, http.StatusAccepted, w.Code)

		var body struct {
			Data struct {
				Verdicts []beaconVerdict `json:"verdicts"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Data.Verdicts, 1)
		assert.Equal(t, "page_hidden", body.Data.Verdicts[0].Category)
		assert.Equal(t, "warned", body.Data.Verdicts[0].State)
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m 42s", formatDuration(42*time.Second))
	assert.Equal(t, "2h 5m 0s", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 1h 0m 1s", formatDuration(25*time.Hour+time.Second))
}
