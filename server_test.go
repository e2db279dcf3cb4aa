package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	h   *harness
	hw  *Hardware
	srv *httptest.Server
}

func newAPIFixture(t *testing.T, simulated bool) *apiFixture {
	t.Helper()
	hash := minCostHash(t, "secret")
	path := writeConfig(t, "ignition.toml", "password_hash = \""+minCostHash(t, "1234")+"\"\n"+
		"[[admin.users]]\nusername = \"admin\"\npassword_hash = \""+hash+"\"\nadmin = true\n"+
		"[[admin.users]]\nusername = \"viewer\"\npassword_hash = \""+hash+"\"\nadmin = false\n")
	cm := NewConfigManager(path)
	require.NoError(t, cm.Load())

	h := newHarness(t)
	hw := NewSimHardware()
	hw.Simulated = simulated
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(NewServer(cm, h.ctrl, hw, h.events, log).Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{h: h, hw: hw, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) login(t *testing.T, user string) *http.Cookie {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/login", map[string]string{"username": user, "password": "secret"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestServer_RequiresSession(t *testing.T) {
	f := newAPIFixture(t, false)
	for _, path := range []string{"/api/status", "/api/reset", "/api/logs", "/api/test_trigger"} {
		resp := f.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := f.do(t, http.MethodGet, "/api/status", nil, &http.Cookie{Name: "session", Value: "forged"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_LoginRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Eventually(t, func() bool { return f.h.logged(`admin login failed for "admin"`) }, time.Second, time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/login", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	f := newAPIFixture(t, false)
	cookie := f.login(t, "viewer")

	resp := f.do(t, http.MethodGet, "/api/status", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		State       string `json:"state"`
		Locked      bool   `json:"locked"`
		Attempts    int    `json:"attempts"`
		MaxAttempts int    `json:"max_attempts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, StateIdle.String(), st.State)
	require.False(t, st.Locked)
	require.Equal(t, 0, st.Attempts)
	require.Equal(t, 3, st.MaxAttempts)
}

func TestServer_RemoteResetLiftsLockout(t *testing.T) {
	f := newAPIFixture(t, false)
	f.h.lockOut()
	cookie := f.login(t, "viewer")

	resp := f.do(t, http.MethodPost, "/api/reset", nil, cookie)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return !f.h.ctrl.Status().Locked }, time.Second, time.Millisecond)
	f.h.requireLogged("remote reset by viewer")
	f.h.requireAttempts(0)
}

func TestServer_LogsAdminOnly(t *testing.T) {
	f := newAPIFixture(t, false)
	f.h.events.Log("system reset")

	resp := f.do(t, http.MethodGet, "/api/logs", nil, f.login(t, "viewer"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/logs?lines=1", nil, f.login(t, "admin"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lines []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	require.Len(t, lines, 1)
}

func TestServer_TestTriggerNeedsSimulatedHardware(t *testing.T) {
	f := newAPIFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/test_trigger", map[string]string{"input": "face"}, f.login(t, "admin"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_TestTriggerInjectsEdge(t *testing.T) {
	f := newAPIFixture(t, true)
	cookie := f.login(t, "admin")

	resp := f.do(t, http.MethodPost, "/api/test_trigger", map[string]string{"input": "bogus"}, cookie)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/test_trigger", map[string]string{"input": "reset"}, cookie)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.True(t, f.hw.Reset.WaitForEdge(time.Second))
	require.False(t, f.hw.FaceTrigger.WaitForEdge(10*time.Millisecond))
}

func TestServer_LoginRateLimited(t *testing.T) {
	f := newAPIFixture(t, false)
	limited := false
	for i := 0; i < 10 && !limited; i++ {
		resp := f.do(t, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "wrong"}, nil)
		limited = resp.StatusCode == http.StatusTooManyRequests
	}
	require.True(t, limited)
}

func TestServer_Logout(t *testing.T) {
	f := newAPIFixture(t, false)
	cookie := f.login(t, "admin")

	resp := f.do(t, http.MethodPost, "/api/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/status", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
