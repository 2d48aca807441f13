package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/schema"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// extensionNamespace is the closed prefix for every server-owned method that
// the surface answers directly instead of forwarding to a subprocess.
const extensionNamespace = "_sandboxagent/"

type extensionHandler func(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error)

var extensionHandlers = map[string]extensionHandler{
	"_sandboxagent/session/create":          extSessionCreate,
	"_sandboxagent/session/send_message":    extSessionSendMessage,
	"_sandboxagent/session/reply_permission": extSessionReplyPermission,
	"_sandboxagent/session/reply_question":  extSessionReplyQuestion,
	"_sandboxagent/session/reject_question": extSessionRejectQuestion,
	"_sandboxagent/session/terminate":       extSessionTerminate,
	"_sandboxagent/session/detach":          extSessionDetach,
	"_sandboxagent/session/set_metadata":    extSessionSetMetadata,
	"_sandboxagent/session/get":             extSessionGet,
	"_sandboxagent/session/list":            extSessionList,
	"_sandboxagent/session/list_models":     extSessionListModels,
	"_sandboxagent/agent/list":              extAgentList,
	"_sandboxagent/agent/install":           extNotImplemented,
	"_sandboxagent/fs/list":                 extNotImplemented,
	"_sandboxagent/fs/read":                 extNotImplemented,
	"_sandboxagent/fs/write":                extNotImplemented,
	"_sandboxagent/fs/delete":               extNotImplemented,
	"_sandboxagent/fs/mkdir":                extNotImplemented,
	"_sandboxagent/fs/move":                 extNotImplemented,
	"_sandboxagent/fs/stat":                 extNotImplemented,
	"_sandboxagent/fs/upload_batch":         extNotImplemented,
}

// dispatchExtension answers a `_sandboxagent/…` method directly; it never
// reaches an adapter subprocess.
func (s *Server) dispatchExtension(c *gin.Context, env *jsonrpc.Envelope) {
	handler, ok := extensionHandlers[env.Method]
	if !ok {
		writeAppError(c, apperrors.Newf(apperrors.KindInvalidRequest, "unknown extension method: %s", env.Method))
		return
	}

	connectionID := c.GetHeader(connectionIDHeader)
	result, err := handler(s, c, connectionID, env.Params)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if env.Classify() == jsonrpc.KindNotification {
		c.Status(http.StatusNoContent)
		return
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		writeAppError(c, apperrors.Wrap(apperrors.KindInvalidRequest, "encode extension result", marshalErr))
		return
	}
	c.JSON(http.StatusOK, &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: env.ID, Result: payload})
}

func extSessionCreate(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Agent     string `json:"agent"`
		Cwd       string `json:"cwd"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/create params")
	}
	kind, ok := agent.Parse(req.Agent)
	if !ok {
		return nil, apperrors.Newf(apperrors.KindUnsupportedAgent, "unsupported agent kind: %s", req.Agent)
	}
	if req.Cwd == "" {
		req.Cwd = "/"
	}
	return s.session.CreateSession(c.Request.Context(), connectionID, req.SessionID, kind, req.Cwd)
}

func extSessionSendMessage(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/send_message params")
	}
	turnID, err := s.session.SendMessage(c.Request.Context(), req.SessionID, req.Text)
	if err != nil {
		return nil, err
	}
	return gin.H{"turnId": turnID}, nil
}

func extSessionReplyPermission(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		PermissionID string `json:"permissionId"`
		Reply        string `json:"reply"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/reply_permission params")
	}
	outcome, err := permissionOutcomeFromReply(req.Reply)
	if err != nil {
		return nil, err
	}
	if err := s.session.ReplyPermission(c.Request.Context(), req.PermissionID, outcome); err != nil {
		return nil, err
	}
	return gin.H{"status": "ok"}, nil
}

func permissionOutcomeFromReply(reply string) (schema.PermissionOutcome, error) {
	switch reply {
	case "once":
		return schema.PermissionAccept, nil
	case "always":
		return schema.PermissionAcceptForSession, nil
	case "reject":
		return schema.PermissionReject, nil
	default:
		return "", apperrors.Newf(apperrors.KindInvalidRequest, "unknown permission reply: %s", reply)
	}
}

func extSessionReplyQuestion(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		QuestionID string     `json:"questionId"`
		Answers    [][]string `json:"answers"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/reply_question params")
	}
	if err := s.session.ReplyQuestion(c.Request.Context(), req.QuestionID, req.Answers); err != nil {
		return nil, err
	}
	return gin.H{"status": "ok"}, nil
}

func extSessionRejectQuestion(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		QuestionID string `json:"questionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/reject_question params")
	}
	if err := s.session.RejectQuestion(c.Request.Context(), req.QuestionID); err != nil {
		return nil, err
	}
	return gin.H{"status": "ok"}, nil
}

func extSessionTerminate(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/terminate params")
	}
	if err := s.session.DeleteSession(req.SessionID); err != nil {
		return nil, err
	}
	return gin.H{"status": "ok"}, nil
}

// extSessionDetach is best-effort: there is no native detach semantics to
// undo beyond what terminate already does, so it is a no-op acknowledgment.
func extSessionDetach(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	return gin.H{"status": "ok"}, nil
}

func extSessionSetMetadata(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
		Model     string `json:"model"`
		Mode      string `json:"mode"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/set_metadata params")
	}
	if req.Title != "" {
		if err := s.session.SetTitle(req.SessionID, req.Title); err != nil {
			return nil, err
		}
	}
	if req.Model != "" || req.Mode != "" {
		if err := s.session.SetOverrides(req.SessionID, req.Model, req.Mode); err != nil {
			return nil, err
		}
	}
	return s.session.Get(req.SessionID)
}

func extSessionGet(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "malformed session/get params")
	}
	return s.session.Get(req.SessionID)
}

func extSessionList(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	return gin.H{"sessions": s.session.List()}, nil
}

// extSessionListModels returns, under the "models" key, each agent kind's
// static DialogModes list; it does not return model names, and no model
// discovery takes place.
func extSessionListModels(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	out := make(map[string][]string, len(agent.All()))
	for _, k := range agent.All() {
		info, _ := agent.Lookup(k)
		out[string(k)] = info.DialogModes
	}
	return gin.H{"models": out}, nil
}

func extAgentList(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	out := make([]agent.Info, 0, len(agent.All()))
	for _, k := range agent.All() {
		info, _ := agent.Lookup(k)
		out = append(out, info)
	}
	return gin.H{"agents": out}, nil
}

// extNotImplemented answers the agent/install and fs/* extension methods
// named in the dispatch list but out of scope for this core (installer and
// filesystem bridge are separate concerns). It returns a clearly labeled
// NotImplemented error rather than falling through to the generic
// unknown-method path, so clients can tell "unsupported on purpose" apart
// from "typo in method name".
func extNotImplemented(s *Server, c *gin.Context, connectionID string, params json.RawMessage) (any, error) {
	return nil, apperrors.New(apperrors.KindNotImplemented, "method is not implemented by this gateway")
}
