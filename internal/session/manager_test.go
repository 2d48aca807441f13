package session

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/proxy"
	"github.com/kandev/acp-gateway/internal/schema"
)

type mockResolver struct{ binary string }

func (r *mockResolver) IsInstalled(ctx context.Context, kind agent.Kind) (bool, error) { return true, nil }
func (r *mockResolver) EnsureInstalled(ctx context.Context, kind agent.Kind) error     { return nil }
func (r *mockResolver) ResolveAgentProcess(ctx context.Context, kind agent.Kind, cwd string) (agent.LaunchSpec, error) {
	return agent.LaunchSpec{Program: r.binary}, nil
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

func newTestManager(t *testing.T) *Manager {
	binary := buildMockAgentBinary(t)
	mgr := New(logger.Default(), nil)
	rt := proxy.New(logger.Default(), &mockResolver{binary: binary}, mgr, proxy.Options{})
	mgr.proxy = rt
	t.Cleanup(func() { rt.ShutdownAll(context.Background()) })
	return mgr
}

func TestCreateSessionRegistersNativeSessionAndEmitsStarted(t *testing.T) {
	mgr := newTestManager(t)
	view, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", view.SessionID)
	assert.NotEmpty(t, view.NativeSessionID)

	_, replay, _, err := mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, replay)
	assert.Equal(t, schema.EventSessionStarted, replay[0].Type)
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	_, err = mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSessionAlreadyExists, appErr.Kind)
}

func TestSendMessageBracketsWithTurnEvents(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	_, err = mgr.SendMessage(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	_, replay, _, err := mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)

	var sawTurnStarted, sawTurnEnded, sawItem bool
	for _, ev := range replay {
		switch ev.Type {
		case schema.EventTurnStarted:
			sawTurnStarted = true
		case schema.EventTurnEnded:
			sawTurnEnded = true
		case schema.EventItemStarted, schema.EventItemCompleted, schema.EventItemDelta:
			sawItem = true
		}
	}
	assert.True(t, sawTurnStarted)
	assert.True(t, sawTurnEnded)
	assert.True(t, sawItem)
}

func TestDeleteSessionRemovesRecordAndClosesBus(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteSession("sess-1"))

	_, err = mgr.Get("sess-1")
	require.Error(t, err)

	err = mgr.DeleteSession("sess-1")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSessionNotFound, appErr.Kind)
}

func TestPermissionRoundTripThroughMockAgent(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.SendMessage(context.Background(), "sess-1", "this needs permission")
		done <- err
	}()

	var permissionID string
	for permissionID == "" {
		_, replay, _, err := mgr.Subscribe("sess-1", 0)
		require.NoError(t, err)
		for _, ev := range replay {
			if ev.Type == schema.EventPermissionRequested {
				data := ev.Data.(schema.PermissionRequestedData)
				permissionID = data.PermissionID
			}
		}
	}

	require.NoError(t, mgr.ReplyPermission(context.Background(), permissionID, schema.PermissionAccept))
	require.NoError(t, <-done)

	_, replay, _, err := mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)
	var sawResolved, sawTurnEnded bool
	for _, ev := range replay {
		if ev.Type == schema.EventPermissionResolved {
			sawResolved = true
		}
		if ev.Type == schema.EventTurnEnded {
			sawTurnEnded = true
		}
	}
	assert.True(t, sawResolved)
	assert.True(t, sawTurnEnded, "ReplyPermission must close the turn it resolved")
}

func TestSendMessageAutoApprovedPermissionEmitsFullTripleWithoutBlocking(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	// First round: reply "always" so the action becomes auto-approved for
	// the rest of the session.
	done := make(chan error, 1)
	go func() {
		_, err := mgr.SendMessage(context.Background(), "sess-1", "this needs permission")
		done <- err
	}()
	var permissionID string
	for permissionID == "" {
		_, replay, _, err := mgr.Subscribe("sess-1", 0)
		require.NoError(t, err)
		for _, ev := range replay {
			if ev.Type == schema.EventPermissionRequested {
				permissionID = ev.Data.(schema.PermissionRequestedData).PermissionID
			}
		}
	}
	require.NoError(t, mgr.ReplyPermission(context.Background(), permissionID, schema.PermissionAcceptForSession))
	require.NoError(t, <-done)

	// Second round: the same action is now auto-approved, so the whole
	// requested/resolved/turn.ended triple must fire synchronously within
	// SendMessage, with no client reply needed.
	turnID, err := mgr.SendMessage(context.Background(), "sess-1", "this needs permission")
	require.NoError(t, err)

	_, replay, _, err := mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)
	var resolvedCount int
	var turnEndedForSecond int
	for _, ev := range replay {
		if ev.Type == schema.EventPermissionResolved {
			resolvedCount++
		}
		if ev.Type == schema.EventTurnEnded {
			if data, ok := ev.Data.(schema.TurnEndedData); ok && data.TurnID == turnID {
				turnEndedForSecond++
			}
		}
	}
	assert.Equal(t, 2, resolvedCount, "one resolution per round, auto-approved or not")
	assert.Equal(t, 1, turnEndedForSecond, "exactly one turn.ended for the auto-approved round's turn")
}

func TestReplyQuestionClosesTurn(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), "conn-1", "sess-1", agent.Mock, "/tmp")
	require.NoError(t, err)

	turnID, err := mgr.SendMessage(context.Background(), "sess-1", "this needs question")
	require.NoError(t, err)

	_, replay, _, err := mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)
	var questionID string
	for _, ev := range replay {
		if ev.Type == schema.EventQuestionRequested {
			questionID = ev.Data.(schema.QuestionRequestedData).QuestionID
		}
	}
	require.NotEmpty(t, questionID)

	require.NoError(t, mgr.ReplyQuestion(context.Background(), questionID, [][]string{{"yes"}}))

	_, replay, _, err = mgr.Subscribe("sess-1", 0)
	require.NoError(t, err)
	var sawTurnEnded bool
	for _, ev := range replay {
		if ev.Type == schema.EventTurnEnded {
			if data, ok := ev.Data.(schema.TurnEndedData); ok && data.TurnID == turnID {
				sawTurnEnded = true
			}
		}
	}
	assert.True(t, sawTurnEnded, "ReplyQuestion must close the turn that asked it")
}
