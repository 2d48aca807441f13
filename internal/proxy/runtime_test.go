package proxy

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/adapter"
	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// fakeResolver resolves agent.Mock to the mockagent binary built by the
// adapter package's own test helper; any other kind is reported uninstalled,
// exercising the install-gating path without needing a real agent binary.
type fakeResolver struct {
	mockBinary string
}

func (f *fakeResolver) IsInstalled(ctx context.Context, kind agent.Kind) (bool, error) {
	return kind == agent.Mock, nil
}

func (f *fakeResolver) EnsureInstalled(ctx context.Context, kind agent.Kind) error {
	return apperrors.Newf(apperrors.KindInstallFailed, "no installer configured for %s", kind)
}

func (f *fakeResolver) ResolveAgentProcess(ctx context.Context, kind agent.Kind, cwd string) (agent.LaunchSpec, error) {
	return agent.LaunchSpec{Program: f.mockBinary}, nil
}

type recordingSink struct {
	messages chan adapter.StreamMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(chan adapter.StreamMessage, 64)}
}

func (s *recordingSink) Ingest(connectionID string, kind agent.Kind, msg adapter.StreamMessage) {
	s.messages <- msg
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

func TestProxyPostBootstrapsInstanceOnFirstCall(t *testing.T) {
	binary := buildMockAgentBinary(t)
	resolver := &fakeResolver{mockBinary: binary}
	sink := newRecordingSink()
	rt := New(logger.Default(), resolver, sink, Options{})

	kind := agent.Mock
	env := &jsonrpc.Envelope{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "session/new", Params: json.RawMessage(`{}`)}

	outcome, connID, err := rt.Post(context.Background(), "conn-1", &kind, env)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", connID)
	require.True(t, outcome.Accepted)
	require.NotNil(t, outcome.Response)

	rt.ShutdownAll(context.Background())
}

func TestProxyPostRejectsAgentMismatch(t *testing.T) {
	binary := buildMockAgentBinary(t)
	resolver := &fakeResolver{mockBinary: binary}
	rt := New(logger.Default(), resolver, nil, Options{})

	mock := agent.Mock
	_, _, err := rt.Post(context.Background(), "conn-1", &mock, &jsonrpc.Envelope{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "session/new"})
	require.NoError(t, err)

	claude := agent.Claude
	_, _, err = rt.Post(context.Background(), "conn-1", &claude, &jsonrpc.Envelope{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "session/new"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)

	rt.ShutdownAll(context.Background())
}

func TestProxyPostRequiresBootstrapAgentForUnknownConnection(t *testing.T) {
	rt := New(logger.Default(), &fakeResolver{}, nil, Options{})
	_, _, err := rt.Post(context.Background(), "conn-unknown", nil, &jsonrpc.Envelope{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "session/new"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidRequest, appErr.Kind)
}

func TestProxyEnsureInstalledRejectsUninstalledWhenPreinstallRequired(t *testing.T) {
	rt := New(logger.Default(), &fakeResolver{}, nil, Options{RequirePreinstall: true})
	claude := agent.Claude
	_, _, err := rt.Post(context.Background(), "conn-2", &claude, &jsonrpc.Envelope{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "session/new"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAgentNotInstalled, appErr.Kind)
}

func TestProxyDeleteUnknownConnectionReturnsClientNotFound(t *testing.T) {
	rt := New(logger.Default(), &fakeResolver{}, nil, Options{})
	err := rt.Delete(context.Background(), "missing")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindClientNotFound, appErr.Kind)
}
