// Package session implements the Session Manager: the authoritative session
// record store, per-session universal-event bus, and human-in-the-loop
// (permission/question) bookkeeping that sits above the ACP Proxy Runtime.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kandev/acp-gateway/internal/adapter"
	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/broadcast"
	"github.com/kandev/acp-gateway/internal/proxy"
	"github.com/kandev/acp-gateway/internal/schema"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// Manager owns every session's Record and event Bus, and mediates between
// the raw adapter stream (via Ingest, which satisfies proxy.MessageSink)
// and the universal-event pipeline.
type Manager struct {
	log   *logger.Logger
	proxy *proxy.Runtime

	recordsMu sync.Mutex
	records   map[string]*Record

	busesMu sync.Mutex
	buses   map[string]*Bus

	nativeIndexMu sync.Mutex
	nativeIndex   map[string]string // connectionID + "\x00" + nativeSessionID -> sessionID

	permissionsMu sync.Mutex
	permissions   map[string]*permissionEntry

	questionsMu sync.Mutex
	questions   map[string]*questionEntry

	turnsMu   sync.Mutex
	openTurns map[string]string // sessionID -> the turn id currently open for it

	wireID atomic.Uint64
}

// New constructs a Manager bound to rt for outbound JSON-RPC traffic. rt may
// be nil if the caller needs to break the Manager/proxy.Runtime construction
// cycle (the proxy takes the Manager as its MessageSink); use SetProxy once
// the Runtime exists.
func New(log *logger.Logger, rt *proxy.Runtime) *Manager {
	return &Manager{
		log:         log,
		proxy:       rt,
		records:     make(map[string]*Record),
		buses:       make(map[string]*Bus),
		nativeIndex: make(map[string]string),
		permissions: make(map[string]*permissionEntry),
		questions:   make(map[string]*questionEntry),
		openTurns:   make(map[string]string),
	}
}

// SetProxy binds the Manager to rt after construction, for callers that must
// build the Manager before the proxy.Runtime exists (see cmd/acp-gateway).
func (m *Manager) SetProxy(rt *proxy.Runtime) {
	m.proxy = rt
}

func (m *Manager) nextWireID() json.RawMessage {
	n := m.wireID.Add(1)
	return json.RawMessage(fmt.Sprintf("%d", n))
}

func nativeKey(connectionID, nativeSessionID string) string {
	return connectionID + "\x00" + nativeSessionID
}

// CreateSession issues session/new to the agent through the proxy and
// registers the resulting native session under the caller-supplied
// sessionID. Rejects duplicates with errors.KindSessionAlreadyExists.
func (m *Manager) CreateSession(ctx context.Context, connectionID, sessionID string, kind agent.Kind, cwd string) (View, error) {
	m.recordsMu.Lock()
	if _, exists := m.records[sessionID]; exists {
		m.recordsMu.Unlock()
		return View{}, apperrors.Newf(apperrors.KindSessionAlreadyExists, "session already exists: %s", sessionID)
	}
	m.recordsMu.Unlock()

	env, err := jsonrpc.NewRequest(m.nextWireID(), "session/new", map[string]any{"cwd": cwd})
	if err != nil {
		return View{}, apperrors.Wrap(apperrors.KindInvalidRequest, "encode session/new params", err)
	}

	outcome, _, err := m.proxy.Post(ctx, connectionID, &kind, env)
	if err != nil {
		return View{}, err
	}
	if outcome.Response != nil && outcome.Response.Error != nil {
		return View{}, apperrors.Newf(apperrors.KindStreamError, "session/new rejected by agent: %s", outcome.Response.Error.Message)
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if outcome.Response != nil {
		_ = json.Unmarshal(outcome.Response.Result, &result)
	}

	rec := newRecord(sessionID, connectionID, kind, cwd)
	rec.NativeSessionID = result.SessionID

	bus := NewBus()

	m.recordsMu.Lock()
	m.records[sessionID] = rec
	m.recordsMu.Unlock()

	m.busesMu.Lock()
	m.buses[sessionID] = bus
	m.busesMu.Unlock()

	if result.SessionID != "" {
		m.nativeIndexMu.Lock()
		m.nativeIndex[nativeKey(connectionID, result.SessionID)] = sessionID
		m.nativeIndexMu.Unlock()
	}

	m.emit(sessionID, schema.Conversion{
		Type:            schema.EventSessionStarted,
		Data:            schema.SessionStartedData{NativeSessionID: result.SessionID},
		Synthetic:       true,
		NativeSessionID: result.SessionID,
	}, schema.Source{Agent: string(kind)})

	return rec.view(), nil
}

// DeleteSession ends a session locally: removes its record, closes its bus,
// and removes it from the native-session index. It does not tear down the underlying adapter
// connection, which may be serving other sessions.
func (m *Manager) DeleteSession(sessionID string) error {
	m.recordsMu.Lock()
	rec, ok := m.records[sessionID]
	if ok {
		delete(m.records, sessionID)
	}
	m.recordsMu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}

	if rec.NativeSessionID != "" {
		m.nativeIndexMu.Lock()
		delete(m.nativeIndex, nativeKey(rec.ConnectionID, rec.NativeSessionID))
		m.nativeIndexMu.Unlock()
	}

	m.busesMu.Lock()
	bus, ok := m.buses[sessionID]
	if ok {
		delete(m.buses, sessionID)
	}
	m.busesMu.Unlock()
	if ok {
		bus.Close()
	}
	return nil
}

// Get returns a read-only view of a session's current record.
func (m *Manager) Get(sessionID string) (View, error) {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return View{}, apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}
	return rec.view(), nil
}

// List returns a snapshot view of every known session.
func (m *Manager) List() []View {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	out := make([]View, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.view())
	}
	return out
}

// SetTitle updates a session's client-assigned title.
func (m *Manager) SetTitle(sessionID, title string) error {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}
	rec.Title = title
	return nil
}

// SetOverrides updates a session's model/mode hints.
func (m *Manager) SetOverrides(sessionID, model, mode string) error {
	m.recordsMu.Lock()
	defer m.recordsMu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}
	if model != "" {
		rec.Model = model
	}
	if mode != "" {
		rec.Mode = mode
	}
	return nil
}

// SendMessage forwards a prompt to the native agent, bracketing it with
// turn.started/turn.ended universal events. The built-in mock agent is a
// fast path handled entirely in-process (sendMessageLocal); every other
// agent kind dispatches session/prompt through the proxy.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) (turnID string, err error) {
	m.recordsMu.Lock()
	rec, ok := m.records[sessionID]
	m.recordsMu.Unlock()
	if !ok {
		return "", apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}

	turnID = uuid.NewString()
	m.startTurn(sessionID, turnID)
	m.emit(sessionID, schema.Conversion{Type: schema.EventTurnStarted, Data: schema.TurnStartedData{TurnID: turnID}, Synthetic: true}, schema.Source{Agent: string(rec.Agent)})

	if rec.Agent == agent.Mock {
		m.sendMessageLocal(sessionID, rec, text)
		return turnID, nil
	}

	env, encErr := jsonrpc.NewRequest(m.nextWireID(), "session/prompt", map[string]any{
		"sessionId": rec.NativeSessionID,
		"prompt":    []map[string]any{{"type": "text", "text": text}},
	})
	if encErr != nil {
		m.endTurn(sessionID, "error")
		return turnID, apperrors.Wrap(apperrors.KindInvalidRequest, "encode session/prompt params", encErr)
	}

	outcome, _, postErr := m.proxy.Post(ctx, rec.ConnectionID, nil, env)
	reason := "end_turn"
	if postErr == nil && outcome.Response != nil && outcome.Response.Result != nil {
		var result struct {
			StopReason string `json:"stopReason"`
		}
		_ = json.Unmarshal(outcome.Response.Result, &result)
		if result.StopReason != "" {
			reason = result.StopReason
		}
	}
	if postErr != nil {
		reason = "error"
	}

	// If a permission round trip already closed this turn (e.g. an
	// auto-approved action), this is a no-op: at most one turn.ended per
	// turn.started.
	m.endTurn(sessionID, reason)
	return turnID, postErr
}

// sendMessageLocal simulates a prompt/response turn for the mock agent
// without a subprocess round trip. A "needs permission" substring triggers
// the permission flow, as it does in the cmd/mockagent subprocess; a "needs
// question" substring triggers a question flow that only this local path
// has. Anything else completes immediately.
func (m *Manager) sendMessageLocal(sessionID string, rec *Record, text string) {
	itemID := uuid.NewString()
	m.emit(sessionID, schema.Conversion{
		Type: schema.EventItemStarted,
		Data: schema.ItemStartedData{Item: schema.Item{ItemID: itemID, Kind: schema.ItemMessage, Role: schema.RoleAssistant, Status: schema.StatusInProgress}},
	}, schema.Source{Agent: string(agent.Mock)})

	switch {
	case strings.Contains(text, "needs permission"):
		m.requestPermission(sessionID, rec.ConnectionID, agent.Mock, "mock_tool", nil)
		return
	case strings.Contains(text, "needs question"):
		questionID := uuid.NewString()
		m.questionsMu.Lock()
		m.questions[questionID] = &questionEntry{SessionID: sessionID, ConnectionID: rec.ConnectionID}
		m.questionsMu.Unlock()
		m.emit(sessionID, schema.Conversion{
			Type: schema.EventQuestionRequested,
			Data: schema.QuestionRequestedData{QuestionID: questionID, Prompt: text},
		}, schema.Source{Agent: string(agent.Mock)})
		return
	}

	reply := "mock: " + text
	m.emit(sessionID, schema.Conversion{
		Type: schema.EventItemCompleted,
		Data: schema.ItemCompletedData{Item: schema.Item{
			ItemID:  itemID,
			Kind:    schema.ItemMessage,
			Role:    schema.RoleAssistant,
			Content: []schema.ContentPart{schema.TextPart(reply)},
			Status:  schema.StatusCompleted,
		}},
	}, schema.Source{Agent: string(agent.Mock)})

	m.endTurn(sessionID, "end_turn")
}

// startTurn registers turnID as sessionID's currently open turn.
func (m *Manager) startTurn(sessionID, turnID string) {
	m.turnsMu.Lock()
	m.openTurns[sessionID] = turnID
	m.turnsMu.Unlock()
}

// endTurn closes sessionID's currently open turn, if any, with a synthetic
// turn.ended. It is a no-op if the turn was already closed (e.g. by an
// auto-approved permission reply), enforcing "exactly one turn.ended per
// turn.started" even when multiple code paths race to close the same turn.
func (m *Manager) endTurn(sessionID, reason string) {
	m.turnsMu.Lock()
	turnID, ok := m.openTurns[sessionID]
	if ok {
		delete(m.openTurns, sessionID)
	}
	m.turnsMu.Unlock()
	if !ok {
		return
	}

	m.recordsMu.Lock()
	rec, recOK := m.records[sessionID]
	m.recordsMu.Unlock()
	var source schema.Source
	if recOK {
		source = schema.Source{Agent: string(rec.Agent)}
	}

	m.emit(sessionID, schema.Conversion{Type: schema.EventTurnEnded, Data: schema.TurnEndedData{TurnID: turnID, Reason: reason}, Synthetic: true}, source)
}

// Subscribe returns a session's current view plus a replay+live feed of its
// event bus starting after afterSeq.
func (m *Manager) Subscribe(sessionID string, afterSeq uint64) (View, []schema.Event, *broadcast.Subscription[schema.Event], error) {
	view, err := m.Get(sessionID)
	if err != nil {
		return View{}, nil, nil, err
	}
	m.busesMu.Lock()
	bus, ok := m.buses[sessionID]
	m.busesMu.Unlock()
	if !ok {
		return View{}, nil, nil, apperrors.Newf(apperrors.KindSessionNotFound, "session not found: %s", sessionID)
	}
	replay, sub := bus.Subscribe(afterSeq)
	return view, replay, sub, nil
}

func (m *Manager) emit(sessionID string, conv schema.Conversion, source schema.Source) {
	m.busesMu.Lock()
	bus, ok := m.buses[sessionID]
	m.busesMu.Unlock()
	if !ok {
		return
	}
	bus.Emit(sessionID, conv, source)

	m.recordsMu.Lock()
	if rec, ok := m.records[sessionID]; ok {
		rec.EventCount++
		if conv.Type == schema.EventSessionEnded {
			rec.Ended = true
		}
	}
	m.recordsMu.Unlock()
}

// Ingest implements proxy.MessageSink: it is called for every line an
// adapter broadcasts, for every session multiplexed over that connection.
func (m *Manager) Ingest(connectionID string, kind agent.Kind, msg adapter.StreamMessage) {
	var probe struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(msg.Payload, &probe); err != nil || probe.Method == "" {
		return
	}

	switch probe.Method {
	case "session/request_permission":
		m.handlePermissionRequest(connectionID, kind, probe.ID, probe.Params)
		return
	case "session/request_input":
		m.handleQuestionRequest(connectionID, kind, probe.ID, probe.Params)
		return
	case "_adapter/agent_exited":
		m.endAllSessionsForConnection(connectionID, probe.Params)
		return
	}

	sessionID := m.resolveSessionID(connectionID, probe.Params)
	if sessionID == "" {
		return
	}
	for _, conv := range schema.ForKind(kind).Convert(probe.Method, probe.Params) {
		m.emit(sessionID, conv, schema.Source{Agent: string(kind)})
	}
}

func (m *Manager) resolveSessionID(connectionID string, params json.RawMessage) string {
	var withSessionID struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &withSessionID); err != nil || withSessionID.SessionID == "" {
		return ""
	}
	m.nativeIndexMu.Lock()
	defer m.nativeIndexMu.Unlock()
	return m.nativeIndex[nativeKey(connectionID, withSessionID.SessionID)]
}

func (m *Manager) endAllSessionsForConnection(connectionID string, params json.RawMessage) {
	var exitInfo struct {
		Success bool `json:"success"`
		Code    int  `json:"code"`
	}
	_ = json.Unmarshal(params, &exitInfo)

	m.recordsMu.Lock()
	var affected []string
	for id, rec := range m.records {
		if rec.ConnectionID == connectionID && !rec.Ended {
			affected = append(affected, id)
		}
	}
	m.recordsMu.Unlock()

	reason := schema.EndedCompleted
	if !exitInfo.Success {
		reason = schema.EndedError
	}
	code := exitInfo.Code
	for _, id := range affected {
		m.emit(id, schema.Conversion{
			Type:      schema.EventSessionEnded,
			Data:      schema.SessionEndedData{Reason: reason, TerminatedBy: schema.TerminatedByAgent, ExitCode: &code},
			Synthetic: true,
		}, schema.Source{})
	}
}
