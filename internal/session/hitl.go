package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/schema"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// permissionEntry is a pending agent-initiated session/request_permission
// call: the client must answer it before the agent's own request times out,
// via ReplyPermission. OriginalID is the JSON-RPC id the agent used, needed
// to address the reply back to its waiting call.
type permissionEntry struct {
	SessionID    string
	ConnectionID string
	Action       string
	OriginalID   json.RawMessage
}

// questionEntry is a pending agent-initiated session/request_input call.
type questionEntry struct {
	SessionID    string
	ConnectionID string
	OriginalID   json.RawMessage
}

func (m *Manager) handlePermissionRequest(connectionID string, kind agent.Kind, originalID, params json.RawMessage) {
	var req struct {
		SessionID string `json:"sessionId"`
		Action    string `json:"action"`
	}
	_ = json.Unmarshal(params, &req)

	sessionID := m.resolveSessionID(connectionID, params)
	if sessionID == "" {
		return
	}
	m.requestPermission(sessionID, connectionID, kind, req.Action, originalID)
}

// requestPermission injects a permission.requested event for action, then
// either resolves it immediately (when the session previously recorded
// action as auto-approved, via accept_for_session) or parks it pending a
// client reply. originalID is the agent's own request id to address a wire
// reply back to, or nil for a locally-originated request (e.g. the mock
// agent's fast path) that has no wire round trip to complete.
func (m *Manager) requestPermission(sessionID, connectionID string, kind agent.Kind, action string, originalID json.RawMessage) {
	m.recordsMu.Lock()
	rec, ok := m.records[sessionID]
	var autoApproved bool
	if ok {
		_, autoApproved = rec.AutoApprove[action]
	}
	m.recordsMu.Unlock()
	if !ok {
		return
	}

	permissionID := uuid.NewString()
	entry := &permissionEntry{SessionID: sessionID, ConnectionID: connectionID, Action: action, OriginalID: originalID}

	m.emit(sessionID, schema.Conversion{
		Type: schema.EventPermissionRequested,
		Data: schema.PermissionRequestedData{PermissionID: permissionID, Action: action},
	}, schema.Source{Agent: string(kind)})

	if autoApproved {
		m.replyPermissionWire(context.Background(), entry, schema.PermissionAccept)
		m.emit(sessionID, schema.Conversion{
			Type: schema.EventPermissionResolved,
			Data: schema.PermissionResolvedData{PermissionID: permissionID, Status: schema.PermissionAccept},
		}, schema.Source{})
		m.endTurn(sessionID, "end_turn")
		return
	}

	m.permissionsMu.Lock()
	m.permissions[permissionID] = entry
	m.permissionsMu.Unlock()
}

func (m *Manager) handleQuestionRequest(connectionID string, kind agent.Kind, originalID, params json.RawMessage) {
	var req struct {
		SessionID string   `json:"sessionId"`
		Prompt    string   `json:"prompt"`
		Options   []string `json:"options"`
	}
	_ = json.Unmarshal(params, &req)

	sessionID := m.resolveSessionID(connectionID, params)
	if sessionID == "" {
		return
	}

	questionID := uuid.NewString()
	m.questionsMu.Lock()
	m.questions[questionID] = &questionEntry{SessionID: sessionID, ConnectionID: connectionID, OriginalID: originalID}
	m.questionsMu.Unlock()

	m.emit(sessionID, schema.Conversion{
		Type: schema.EventQuestionRequested,
		Data: schema.QuestionRequestedData{QuestionID: questionID, Prompt: req.Prompt, Options: req.Options},
	}, schema.Source{Agent: string(kind)})
}

// ReplyPermission answers a pending permission request. outcome ==
// PermissionAcceptForSession additionally remembers the action as
// auto-approved for the rest of the session.
func (m *Manager) ReplyPermission(ctx context.Context, permissionID string, outcome schema.PermissionOutcome) error {
	m.permissionsMu.Lock()
	entry, ok := m.permissions[permissionID]
	if ok {
		delete(m.permissions, permissionID)
	}
	m.permissionsMu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.KindInvalidRequest, "unknown permission id: %s", permissionID)
	}

	if outcome == schema.PermissionAcceptForSession {
		m.recordsMu.Lock()
		if rec, ok := m.records[entry.SessionID]; ok {
			rec.AutoApprove[entry.Action] = struct{}{}
		}
		m.recordsMu.Unlock()
	}

	if err := m.replyPermissionWire(ctx, entry, outcome); err != nil {
		return err
	}

	m.emit(entry.SessionID, schema.Conversion{
		Type: schema.EventPermissionResolved,
		Data: schema.PermissionResolvedData{PermissionID: permissionID, Status: outcome},
	}, schema.Source{})
	m.endTurn(entry.SessionID, "end_turn")
	return nil
}

// replyPermissionWire completes the agent's pending session/request_permission
// call. entry.OriginalID is nil for a locally-originated request (the mock
// agent's fast path), which has nothing waiting on the wire to reply to.
func (m *Manager) replyPermissionWire(ctx context.Context, entry *permissionEntry, outcome schema.PermissionOutcome) error {
	if entry.OriginalID == nil {
		return nil
	}
	result, err := json.Marshal(map[string]any{"outcome": map[string]any{"outcome": string(outcome)}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvalidRequest, "encode permission reply", err)
	}
	reply := &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: entry.OriginalID, Result: result}
	_, _, err = m.proxy.Post(ctx, entry.ConnectionID, nil, reply)
	return err
}

// ReplyQuestion answers a pending question with one or more selected
// answers (answers is a slice of option-sets to support multi-select
// questions).
func (m *Manager) ReplyQuestion(ctx context.Context, questionID string, answers [][]string) error {
	entry, ok := m.takeQuestion(questionID)
	if !ok {
		return apperrors.Newf(apperrors.KindInvalidRequest, "unknown question id: %s", questionID)
	}

	if entry.OriginalID != nil {
		result, err := json.Marshal(map[string]any{"answers": answers})
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalidRequest, "encode question reply", err)
		}
		reply := &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: entry.OriginalID, Result: result}
		if _, _, err := m.proxy.Post(ctx, entry.ConnectionID, nil, reply); err != nil {
			return err
		}
	}

	m.emit(entry.SessionID, schema.Conversion{
		Type: schema.EventQuestionResolved,
		Data: schema.QuestionResolvedData{QuestionID: questionID, Answers: answers},
	}, schema.Source{})
	m.endTurn(entry.SessionID, "end_turn")
	return nil
}

// RejectQuestion declines a pending question outright. entry.OriginalID is
// nil for a locally-originated question (the mock agent's fast path), which
// has nothing waiting on the wire to reply to.
func (m *Manager) RejectQuestion(ctx context.Context, questionID string) error {
	entry, ok := m.takeQuestion(questionID)
	if !ok {
		return apperrors.Newf(apperrors.KindInvalidRequest, "unknown question id: %s", questionID)
	}

	if entry.OriginalID != nil {
		errObj := &jsonrpc.ErrorObject{Code: -32000, Message: "question rejected by client"}
		reply := &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: entry.OriginalID, Error: errObj}
		if _, _, err := m.proxy.Post(ctx, entry.ConnectionID, nil, reply); err != nil {
			return err
		}
	}

	m.emit(entry.SessionID, schema.Conversion{
		Type: schema.EventQuestionResolved,
		Data: schema.QuestionResolvedData{QuestionID: questionID, Rejected: true},
	}, schema.Source{})
	m.endTurn(entry.SessionID, "end_turn")
	return nil
}

func (m *Manager) takeQuestion(questionID string) (*questionEntry, bool) {
	m.questionsMu.Lock()
	defer m.questionsMu.Unlock()
	entry, ok := m.questions[questionID]
	if ok {
		delete(m.questions, questionID)
	}
	return entry, ok
}
