package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqilrvsb/UNMASK-TIK/internal/bus"
	"github.com/aqilrvsb/UNMASK-TIK/internal/engine"
	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
	"github.com/aqilrvsb/UNMASK-TIK/internal/store"
)

type fakeRunner struct {
	started  [][]string
	startErr error
	stopped  int
	snapshot engine.Snapshot
}

func (f *fakeRunner) Start(orderIDs []string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.started = append(f.started, orderIDs)
	return len(orderIDs), nil
}

func (f *fakeRunner) Stop()                   { f.stopped++ }
func (f *fakeRunner) Status() engine.Snapshot { return f.snapshot }

type fakeAccounts struct {
	cred    *store.Credential
	credErr error
	orders  []string
}

func (f *fakeAccounts) CredentialByEmail(ctx context.Context, email string) (*store.Credential, error) {
	if f.credErr != nil {
		return nil, f.credErr
	}
	return f.cred, nil
}

func (f *fakeAccounts) MaskedOrders(ctx context.Context, credentialID string) ([]string, error) {
	return f.orders, nil
}

func newTestServer(t *testing.T, runner Runner, accounts Accounts) (*httptest.Server, *bus.Bus) {
	t.Helper()
	b := bus.New()
	srv := New(runner, accounts, b, "1.0.0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, b
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPing(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, nil)

	resp, err := http.Get(ts.URL + "/api/ping")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PONG", body["type"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{snapshot: engine.Snapshot{
		IsRunning: true, Processed: 3, Total: 5, Success: 2, Failed: 1,
	}}
	ts, _ := newTestServer(t, runner, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, true, body["isRunning"])
	assert.Equal(t, float64(3), body["processed"])
	assert.Equal(t, float64(5), body["total"])
}

func TestStart(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := newTestServer(t, runner, nil)

	resp := postJSON(t, ts.URL+"/api/unmask/start", map[string]any{
		"order_ids": []string{"A", "B"},
	})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["total"])
	require.Len(t, runner.started, 1)
	assert.Equal(t, []string{"A", "B"}, runner.started[0])
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		wantStatus int
	}{
		{"already running", engine.ErrAlreadyRunning, http.StatusConflict},
		{"empty input", engine.ErrEmptyInput, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeRunner{startErr: tt.startErr}, nil)

			resp := postJSON(t, ts.URL+"/api/unmask/start", map[string]any{
				"order_ids": []string{"A"},
			})
			body := decodeBody(t, resp)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStartRejectsBadJSON(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, nil)

	resp, err := http.Post(ts.URL+"/api/unmask/start", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartByEmail(t *testing.T) {
	runner := &fakeRunner{}
	accounts := &fakeAccounts{
		cred:   &store.Credential{ID: "cred-1", ShopName: "My Shop"},
		orders: []string{"576460752", "576460753"},
	}
	ts, _ := newTestServer(t, runner, accounts)

	resp := postJSON(t, ts.URL+"/api/unmask/start-by-email", map[string]any{
		"email": "seller@example.com",
	})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	require.Len(t, runner.started, 1)
	assert.Equal(t, accounts.orders, runner.started[0])
}

func TestStartByEmailUnknownAccount(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, &fakeAccounts{credErr: store.ErrNotFound})

	resp := postJSON(t, ts.URL+"/api/unmask/start-by-email", map[string]any{
		"email": "nobody@example.com",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartByEmailNoPendingOrders(t *testing.T) {
	runner := &fakeRunner{}
	accounts := &fakeAccounts{cred: &store.Credential{ID: "cred-1"}}
	ts, _ := newTestServer(t, runner, accounts)

	resp := postJSON(t, ts.URL+"/api/unmask/start-by-email", map[string]any{
		"email": "seller@example.com",
	})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, runner.started)
}

func TestStartByEmailWithoutStore(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, nil)

	resp := postJSON(t, ts.URL+"/api/unmask/start-by-email", map[string]any{
		"email": "seller@example.com",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestStop(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := newTestServer(t, runner, nil)

	resp := postJSON(t, ts.URL+"/api/unmask/stop", map[string]any{})
	body := decodeBody(t, resp)

	assert.Equal(t, true, body["stopped"])
	assert.Equal(t, 1, runner.stopped)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt events.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	return evt
}

func TestWebSocketHandshake(t *testing.T) {
	runner := &fakeRunner{snapshot: engine.Snapshot{
		IsRunning: true, Processed: 1, Total: 4, Success: 1,
	}}
	ts, _ := newTestServer(t, runner, nil)

	conn := dialWS(t, ts)
	evt := readEvent(t, conn)

	assert.Equal(t, events.TypeConnected, evt.Type)
	assert.True(t, evt.IsRunning)
	assert.Equal(t, 4, evt.Counters.Total)
}

func TestWebSocketRelaysEvents(t *testing.T) {
	ts, b := newTestServer(t, &fakeRunner{}, nil)

	conn := dialWS(t, ts)
	readEvent(t, conn) // greeting

	b.Publish(events.Started("run-1", 5))
	evt := readEvent(t, conn)

	assert.Equal(t, events.TypeStarted, evt.Type)
	assert.Equal(t, 5, evt.Counters.Total)
}

func TestWebSocketMultipleClients(t *testing.T) {
	ts, b := newTestServer(t, &fakeRunner{}, nil)

	conn1 := dialWS(t, ts)
	conn2 := dialWS(t, ts)
	readEvent(t, conn1)
	readEvent(t, conn2)

	b.Publish(events.Status("working"))

	assert.Equal(t, events.TypeStatus, readEvent(t, conn1).Type)
	assert.Equal(t, events.TypeStatus, readEvent(t, conn2).Type)
}
