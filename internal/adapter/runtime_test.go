package adapter

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/agent"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// buildMockAgent compiles cmd/mockagent into a temp binary.
func buildMockAgent(t *testing.T) string {
	t.Helper()
	binary := t.TempDir() + "/mockagent"
	cmd := exec.Command("go", "build", "-o", binary, "github.com/kandev/acp-gateway/cmd/mockagent")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("skipping: could not build mockagent (%v): %s", err, out)
	}
	return binary
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestRuntimeRequestResponseAndIDCanonicalization(t *testing.T) {
	binary := buildMockAgent(t)
	rt, err := Start(testLogger(t), agent.LaunchSpec{Program: binary}, 5*time.Second)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	// String id "1" and number id 1 must be tracked as distinct requests.
	stringReq := &jsonrpc.Envelope{Method: "session/new", ID: json.RawMessage(`"1"`), Params: json.RawMessage(`{}`)}
	numberReq := &jsonrpc.Envelope{Method: "session/new", ID: json.RawMessage(`1`), Params: json.RawMessage(`{}`)}

	outA, errA := rt.Post(context.Background(), stringReq)
	require.NoError(t, errA)
	require.NotNil(t, outA.Response)

	outB, errB := rt.Post(context.Background(), numberReq)
	require.NoError(t, errB)
	require.NotNil(t, outB.Response)
}

func TestRuntimeNotificationAccepted(t *testing.T) {
	binary := buildMockAgent(t)
	rt, err := Start(testLogger(t), agent.LaunchSpec{Program: binary}, 5*time.Second)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	out, err := rt.Post(context.Background(), &jsonrpc.Envelope{Method: "initialize"})
	require.NoError(t, err)
	require.True(t, out.Accepted)
}

func TestRuntimeInvalidEnvelopeRejected(t *testing.T) {
	binary := buildMockAgent(t)
	rt, err := Start(testLogger(t), agent.LaunchSpec{Program: binary}, 5*time.Second)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	_, err = rt.Post(context.Background(), &jsonrpc.Envelope{})
	require.Error(t, err)
	var adapterErr *Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, ErrInvalidEnvelope, adapterErr.Kind)
}

func TestRuntimeTimeout(t *testing.T) {
	// sleep(1) never writes a response on stdout, so the request must time out.
	rt, err := Start(testLogger(t), agent.LaunchSpec{Program: "sleep", Argv: []string{"5"}}, 50*time.Millisecond)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	_, err = rt.Post(context.Background(), &jsonrpc.Envelope{Method: "session/new", ID: json.RawMessage(`1`)})
	require.Error(t, err)
	var adapterErr *Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, ErrTimeout, adapterErr.Kind)
}

func TestRingRespectsCapacity(t *testing.T) {
	r := newRing(3)
	for i := uint64(1); i <= 5; i++ {
		r.push(StreamMessage{Sequence: i})
	}
	require.Equal(t, 3, r.len())
	msgs := r.since(0)
	require.Len(t, msgs, 3)
	require.Equal(t, uint64(3), msgs[0].Sequence)
	require.Equal(t, uint64(5), msgs[2].Sequence)
}

func TestRingSinceFiltersByOffset(t *testing.T) {
	r := newRing(10)
	for i := uint64(1); i <= 5; i++ {
		r.push(StreamMessage{Sequence: i})
	}
	msgs := r.since(3)
	require.Len(t, msgs, 2)
	require.Equal(t, uint64(4), msgs[0].Sequence)
}

func TestStderrCaptureSnapshotUnderBothBounds(t *testing.T) {
	c := newStderrCapture()
	c.Line("one")
	c.Line("two")
	snap := c.Snapshot()
	require.False(t, snap.Truncated)
	require.Equal(t, 2, snap.Total)
}

func TestStderrCaptureSnapshotTruncatesMiddle(t *testing.T) {
	c := newStderrCapture()
	for i := 0; i < StderrHeadLines+StderrTailLines+25; i++ {
		c.Line("line")
	}
	snap := c.Snapshot()
	require.True(t, snap.Truncated)
	require.Len(t, snap.Head, StderrHeadLines)
	require.Len(t, snap.Tail, StderrTailLines)
	require.Equal(t, StderrHeadLines+StderrTailLines+25, snap.Total)
}
