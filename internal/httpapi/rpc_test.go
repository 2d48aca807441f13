package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/agent"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/config"
	"github.com/kandev/acp-gateway/internal/proxy"
	"github.com/kandev/acp-gateway/internal/session"
)

type fakeResolver struct {
	mockBinary string
}

func (f *fakeResolver) IsInstalled(ctx context.Context, kind agent.Kind) (bool, error) {
	return kind == agent.Mock, nil
}

func (f *fakeResolver) EnsureInstalled(ctx context.Context, kind agent.Kind) error {
	return nil
}

func (f *fakeResolver) ResolveAgentProcess(ctx context.Context, kind agent.Kind, cwd string) (agent.LaunchSpec, error) {
	return agent.LaunchSpec{Program: f.mockBinary}, nil
}

func buildMockAgentBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	binary := dir + "/mockagent"
	cmd := exec.Command("go", "build", "-o", binary, "github.com/kandev/acp-gateway/cmd/mockagent")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not build mockagent: %v\n%s", err, out)
	}
	return binary
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	binary := buildMockAgentBinary(t)
	resolver := &fakeResolver{mockBinary: binary}

	mgr := session.New(logger.Default(), nil)
	rt := proxy.New(logger.Default(), resolver, mgr, proxy.Options{})
	mgr.SetProxy(rt)

	cfg := config.Load()
	s := New(logger.Default(), cfg, rt, mgr)
	t.Cleanup(func() { rt.ShutdownAll(context.Background()) })
	return s
}

func TestHandlePostRejectsNonJSONContentType(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandlePostRejectsMalformedEnvelope(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`not json`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePostRequiresConnectionIDAfterInitialize(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"session/new"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePostBootstrapsConnectionOnInitialize(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"agent":"mock"}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	connID := rec.Header().Get(connectionIDHeader)
	assert.NotEmpty(t, connID)
}

func TestHandlePostNotificationReturnsAccepted(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","method":"initialize","params":{"agent":"mock"}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(connectionIDHeader))
}

func TestDispatchExtensionSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"agent":"mock"}}`
	initReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(initBody))
	initReq.Header.Set("Content-Type", "application/json")
	initRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(initRec, initReq)
	require.Equal(t, http.StatusOK, initRec.Code)
	connID := initRec.Header().Get(connectionIDHeader)
	require.NotEmpty(t, connID)

	createBody := `{"jsonrpc":"2.0","id":2,"method":"_sandboxagent/session/create","params":{"sessionId":"s1","agent":"mock","cwd":"/tmp"}}`
	createReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set(connectionIDHeader, connID)
	createRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code, createRec.Body.String())

	listBody := `{"jsonrpc":"2.0","id":3,"method":"_sandboxagent/session/list"}`
	listReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(listBody))
	listReq.Header.Set("Content-Type", "application/json")
	listReq.Header.Set(connectionIDHeader, connID)
	listRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), `"s1"`)
}

func TestDispatchExtensionUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"_sandboxagent/does/not/exist"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchExtensionNotImplementedStub(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"_sandboxagent/fs/list"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleGetRequiresEventStreamAccept(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(connectionIDHeader, "whatever")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestHandleGetStreamsReplayThenLive(t *testing.T) {
	s := newTestServer(t)

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"agent":"mock"}}`
	initReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(initBody))
	initReq.Header.Set("Content-Type", "application/json")
	initRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(initRec, initReq)
	connID := initRec.Header().Get(connectionIDHeader)
	require.NotEmpty(t, connID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(connectionIDHeader, connID)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Engine().ServeHTTP(rec, req)
		close(done)
	}()

	<-ctx.Done()
	<-done

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	sawReplayedInitialize := false
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 6 && line[:6] == "data: " {
			var env struct {
				Method string          `json:"method"`
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal([]byte(line[6:]), &env); err == nil && env.Result != nil {
				sawReplayedInitialize = true
			}
		}
	}
	assert.True(t, sawReplayedInitialize, "expected the initialize response to be replayed on the SSE stream")
}

func TestHandleGetSecondConcurrentSubscriberConflict(t *testing.T) {
	s := newTestServer(t)

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"agent":"mock"}}`
	initReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(initBody))
	initReq.Header.Set("Content-Type", "application/json")
	initRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(initRec, initReq)
	connID := initRec.Header().Get(connectionIDHeader)
	require.NotEmpty(t, connID)

	_, unsubscribe, _, err := s.proxy.SSE(connID, nil)
	require.NoError(t, err)
	defer unsubscribe()

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(connectionIDHeader, connID)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSessionGetStreamsSessionEvents(t *testing.T) {
	s := newTestServer(t)

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"agent":"mock"}}`
	initReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(initBody))
	initReq.Header.Set("Content-Type", "application/json")
	initRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(initRec, initReq)
	connID := initRec.Header().Get(connectionIDHeader)
	require.NotEmpty(t, connID)

	createBody := `{"jsonrpc":"2.0","id":2,"method":"_sandboxagent/session/create","params":{"sessionId":"s1","agent":"mock","cwd":"/tmp"}}`
	createReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set(connectionIDHeader, connID)
	createRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code, createRec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/rpc/sessions/s1", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Engine().ServeHTTP(rec, req)
		close(done)
	}()

	<-ctx.Done()
	<-done

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	var sawSessionStarted bool
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 6 && line[:6] == "data: " {
			var ev struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(line[6:]), &ev); err == nil && ev.Type == "session.started" {
				sawSessionStarted = true
			}
		}
	}
	assert.True(t, sawSessionStarted, "expected the session.started universal event to be replayed on the session SSE stream")
}

func TestHandleDeleteUnknownConnection(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/rpc", nil)
	req.Header.Set(connectionIDHeader, "missing")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
