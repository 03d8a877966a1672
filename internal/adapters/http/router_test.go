package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/history"
	"github.com/dkeye/voicecall/internal/metrics"
)

type fakeCalls struct {
	mu     sync.Mutex
	state  domain.CallState
	err    error
	ops    []string
	chat   domain.ChatID
	mode   domain.Mode
	cancel bool
	reason domain.Reason
	subs   chan domain.CallState
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{state: domain.Idle(domain.ReasonNone), subs: make(chan domain.CallState, 4)}
}

func (f *fakeCalls) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.err
}

func (f *fakeCalls) Snapshot() domain.CallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCalls) Subscribe() (<-chan domain.CallState, func()) {
	return f.subs, func() {}
}

func (f *fakeCalls) Initiate(_ context.Context, chat domain.ChatID, _ bool, mode domain.Mode) error {
	f.mu.Lock()
	f.chat, f.mode = chat, mode
	f.mu.Unlock()
	return f.record("initiate")
}

func (f *fakeCalls) Accept(context.Context) error { return f.record("accept") }

func (f *fakeCalls) Reject(_ context.Context, isCancel bool) error {
	f.mu.Lock()
	f.cancel = isCancel
	f.mu.Unlock()
	return f.record("reject")
}

func (f *fakeCalls) EndCall(_ context.Context, reason domain.Reason) error {
	f.mu.Lock()
	f.reason = reason
	f.mu.Unlock()
	return f.record("end")
}

func (f *fakeCalls) ToggleAudio(context.Context) error       { return f.record("audio") }
func (f *fakeCalls) ToggleVideo(context.Context) error       { return f.record("video") }
func (f *fakeCalls) ToggleScreenShare(context.Context) error { return f.record("screen") }

type fakeHistory struct {
	calls []history.Call
	limit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Call, error) {
	f.limit = limit
	return f.calls, nil
}

func setup(t *testing.T) (*gin.Engine, *fakeCalls, *fakeHistory, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	calls := newFakeCalls()
	hist := &fakeHistory{calls: []history.Call{{SessionID: "a", Status: "ended"}}}
	reg := prometheus.NewRegistry()
	metrics.New(reg).RecordCallStarted(domain.ModeDirect, true)
	cfg := &config.Config{Mode: "test", Secret: "secret"}
	return SetupRouter(cfg, calls, hist, reg), calls, hist, reg
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateBindsRequest(t *testing.T) {
	r, calls, _, _ := setup(t)

	w := do(r, http.MethodPost, "/api/call/initiate", `{"chatId": 7, "video": true, "mode": "group"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ChatID(7), calls.chat)
	assert.Equal(t, domain.ModeGroup, calls.mode)

	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "idle", st["status"])
}

func TestInitiateRejectsBadBody(t *testing.T) {
	r, calls, _, _ := setup(t)

	w := do(r, http.MethodPost, "/api/call/initiate", `{"video": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/api/call/initiate", `{"chatId": 7, "mode": "conference"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, calls.ops)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		code   int
		reason string
	}{
		{domain.ErrNoActiveCall, http.StatusNotFound, "no_active_call"},
		{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{domain.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
		{domain.ErrDeviceBusy, http.StatusServiceUnavailable, "device_unavailable"},
		{domain.ErrTransportDisconnected, http.StatusServiceUnavailable, "transport_lost"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		r, calls, _, _ := setup(t)
		calls.err = tc.err

		w := do(r, http.MethodPost, "/api/call/accept", "")
		assert.Equal(t, tc.code, w.Code, tc.err.Error())

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.reason, body["error"])
	}
}

func TestRejectEndAndToggles(t *testing.T) {
	r, calls, _, _ := setup(t)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/call/reject", `{"cancel": true}`).Code)
	assert.True(t, calls.cancel)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/call/end", "").Code)
	assert.Equal(t, domain.ReasonHangup, calls.reason)
	for _, kind := range []string{"audio", "video", "screen"} {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/call/toggle/"+kind, "").Code)
	}
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/call/toggle/camera", "").Code)
	assert.Equal(t, []string{"reject", "end", "audio", "video", "screen"}, calls.ops)
}

func TestStateAndHistory(t *testing.T) {
	r, _, hist, _ := setup(t)

	w := do(r, http.MethodGet, "/api/call", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"idle"`)

	w = do(r, http.MethodGet, "/api/call/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, hist.limit)
	assert.Contains(t, w.Body.String(), `"sessionId":"a"`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/call/history?limit=x", "").Code)
}

func TestClientTokenCookieAndMetrics(t *testing.T) {
	r, _, _, _ := setup(t)

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicecall_calls_started_total")

	var session bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "VoiceCallSessions" {
			session = true
		}
	}
	assert.True(t, session)
}

func TestEventsStreamsProjection(t *testing.T) {
	r, calls, _, _ := setup(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/call/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	calls.subs <- domain.CallState{Status: domain.StatusOutgoing, ChatID: 7, Members: []domain.CallMember{}}

	var data []string
	sc := bufio.NewScanner(resp.Body)
	for len(data) < 2 && sc.Scan() {
		if line, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
			data = append(data, line)
		}
	}
	require.Len(t, data, 2)
	assert.Contains(t, data[0], `"status":"idle"`)
	assert.Contains(t, data[1], `"status":"outgoing"`)
}
