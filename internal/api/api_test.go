package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flexphone/internal/auth"
	"flexphone/internal/config"
	"flexphone/internal/directory"
	"flexphone/internal/engine"
	"flexphone/internal/firewall"
	"flexphone/internal/history"
	"flexphone/internal/notify"
	"flexphone/internal/registrar"
	"flexphone/internal/transport"
)

type testServer struct {
	api *ControlAPI
	tp  *transport.FakeTransport
	reg *registrar.Registrar
	cc  *engine.CallControl
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	log := zerolog.Nop()
	tp := transport.NewFakeTransport()
	hist := history.NewMemoryRecorder()
	sink := notify.NewBufferSink(64)
	bridge := engine.NewBridge(sink, hist, log)
	cc := engine.NewCallControl(tp, directory.NewMemoryDirectory(), bridge, engine.Config{}, log)
	reg := registrar.New(tp, bridge, cc, hist, log)
	cc.BindRegistration(reg)
	bridge.BindController(cc)
	bridge.BindRegistrar(reg)

	a := New(reg, cc, hist, sink, auth.NewManager(cfg.JWTSecret), firewall.New(cfg.LoginAttempts, log), cfg, log)
	return &testServer{api: a, tp: tp, reg: reg, cc: cc}
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.api.router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad JSON body %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(t, config.APIConfig{Username: "admin", Password: "pw", JWTSecret: "s3cret", LoginAttempts: 5})

	rec := s.do(http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	s := newTestServer(t, config.APIConfig{Username: "admin", Password: "pw", JWTSecret: "s3cret", LoginAttempts: 5})

	rec := s.do(http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"wrong"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, want 200", rec.Code)
	}
	token, _ := decode(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	rec = s.do(http.MethodGet, "/api/status", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}
}

func TestAuthSkippedWhenUnconfigured(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	rec := s.do(http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without configured auth", rec.Code)
	}
}

func TestRepeatedBadLoginsAreBlocked(t *testing.T) {
	s := newTestServer(t, config.APIConfig{Username: "admin", Password: "pw", JWTSecret: "s3cret", LoginAttempts: 2})

	for i := 0; i < 2; i++ {
		s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"wrong"}`, "")
	}
	rec := s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("login after lockout = %d, want 403", rec.Code)
	}
}

func TestConnectAndCallFlow(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	rec := s.do(http.MethodPost, "/api/connect",
		`{"provider":"flexpbx","username":"alice","password":"secret"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("connect = %d body=%s", rec.Code, rec.Body.String())
	}
	waitFor(t, s.reg.IsRegistered)

	rec = s.do(http.MethodPost, "/api/calls", `{"number":"555-0100"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate = %d body=%s", rec.Code, rec.Body.String())
	}
	callID, _ := decode(t, rec)["call_id"].(string)
	if callID == "" {
		t.Fatal("no call id returned")
	}

	rec = s.do(http.MethodPost, "/api/calls/"+callID+"/hangup", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("hangup = %d", rec.Code)
	}

	// hanging up again is fine, just flagged
	rec = s.do(http.MethodPost, "/api/calls/"+callID+"/hangup", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second hangup = %d", rec.Code)
	}
	if note, _ := decode(t, rec)["note"].(string); note != "call not found" {
		t.Fatalf("second hangup note = %q", note)
	}

	rec = s.do(http.MethodGet, "/api/history", "", "")
	body := decode(t, rec)
	records, _ := body["history"].([]interface{})
	if len(records) != 1 {
		t.Fatalf("history records = %d, want 1", len(records))
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	// not registered yet
	rec := s.do(http.MethodPost, "/api/calls", `{"number":"100"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("unregistered call = %d, want 409", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/connect", `{"provider":"bogus","username":"a","password":"b"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad provider = %d, want 400", rec.Code)
	}

	s.do(http.MethodPost, "/api/connect", `{"provider":"flexpbx","username":"alice","password":"secret"}`, "")
	waitFor(t, s.reg.IsRegistered)

	rec = s.do(http.MethodPost, "/api/calls", `{"number":"##bad!!"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad number = %d, want 400", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/calls/nope/dtmf", `{"digits":"12"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("dtmf on unknown call = %d, want 409", rec.Code)
	}

	answered := decode(t, s.do(http.MethodPost, "/api/calls/nope/answer", "", ""))
	if success, _ := answered["success"].(bool); success {
		t.Fatal("answering an unknown call reported success")
	}
}

func TestEventsAfterCursor(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	s.do(http.MethodPost, "/api/connect", `{"provider":"flexpbx","username":"alice","password":"secret"}`, "")
	waitFor(t, s.reg.IsRegistered)

	rec := s.do(http.MethodGet, "/api/events", "", "")
	all, _ := decode(t, rec)["events"].([]interface{})
	if len(all) == 0 {
		t.Fatal("no events after connect")
	}
	last, _ := all[len(all)-1].(map[string]interface{})
	seq, _ := last["seq"].(float64)

	rec = s.do(http.MethodGet, "/api/events?after="+strconv.Itoa(int(seq)), "", "")
	rest, _ := decode(t, rec)["events"].([]interface{})
	if len(rest) != 0 {
		t.Fatalf("events after latest cursor = %d, want 0", len(rest))
	}

	rec = s.do(http.MethodGet, "/api/events?after=0", "", "")
	again, _ := decode(t, rec)["events"].([]interface{})
	if len(again) != len(all) {
		t.Fatalf("cursor 0 returned %d events, want %d", len(again), len(all))
	}
}
