package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/schema"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

const connectionIDHeader = "X-ACP-Connection-Id"

// handlePost implements POST /rpc: submit one JSON-RPC request or
// notification.
func (s *Server) handlePost(c *gin.Context) {
	if !acceptsJSON(c.GetHeader("Accept")) {
		writeProblem(c, http.StatusNotAcceptable, "NotAcceptable", "Not Acceptable", "Accept header must include application/json")
		return
	}
	if !isJSONContentType(c.GetHeader("Content-Type")) {
		writeProblem(c, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Unsupported Media Type", "Content-Type must be application/json")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "failed to read request body")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "body must be a JSON object")
		return
	}

	var env jsonrpc.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "malformed JSON-RPC envelope")
		return
	}
	if env.JSONRPC != jsonrpc.Version {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", `"jsonrpc" must equal "2.0"`)
		return
	}

	switch env.Classify() {
	case jsonrpc.KindInvalid:
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "message must be exactly one of request, notification, or response")
		return
	case jsonrpc.KindResponse:
		// A client replying to an agent-initiated request; forwarded
		// fire-and-forget, never dispatched as an extension method.
		s.forwardToProxy(c, &env)
		return
	}

	if strings.HasPrefix(env.Method, extensionNamespace) {
		s.dispatchExtension(c, &env)
		return
	}

	s.forwardToProxy(c, &env)
}

func (s *Server) forwardToProxy(c *gin.Context, env *jsonrpc.Envelope) {
	connectionID := c.GetHeader(connectionIDHeader)
	var bootstrapKind *agent.Kind

	if connectionID == "" {
		if env.Method != "initialize" {
			writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "X-ACP-Connection-Id is required after the first initialize call")
			return
		}
		kind, err := parseBootstrapAgent(env.Params)
		if err != nil {
			writeAppError(c, err)
			return
		}
		connectionID = uuid.NewString()
		bootstrapKind = &kind
	}

	outcome, _, err := s.proxy.Post(c.Request.Context(), connectionID, bootstrapKind, env)
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.Header(connectionIDHeader, connectionID)
	if env.Classify() == jsonrpc.KindNotification {
		c.Status(http.StatusAccepted)
		return
	}
	if outcome.Response == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, outcome.Response)
}

func parseBootstrapAgent(params json.RawMessage) (agent.Kind, error) {
	var p struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", apperrors.New(apperrors.KindInvalidRequest, "initialize params must include an agent name")
	}
	kind, ok := agent.Parse(p.Agent)
	if !ok {
		return "", apperrors.Newf(apperrors.KindUnsupportedAgent, "unsupported agent kind: %s", p.Agent)
	}
	return kind, nil
}

// handleGet implements GET /rpc: subscribe to the connection's raw adapter
// stream via SSE.
func (s *Server) handleGet(c *gin.Context) {
	if !acceptsEventStream(c.GetHeader("Accept")) {
		writeProblem(c, http.StatusNotAcceptable, "NotAcceptable", "Not Acceptable", "Accept header must include text/event-stream")
		return
	}
	connectionID := c.GetHeader(connectionIDHeader)
	if connectionID == "" {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "X-ACP-Connection-Id is required")
		return
	}

	var lastEventID *uint64
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "Last-Event-ID must be a non-negative integer")
			return
		}
		lastEventID = &n
	}

	replay, unsubscribe, live, err := s.proxy.SSE(connectionID, lastEventID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	w := c.Writer
	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)

	writeFrame := func(seq uint64, payload []byte) {
		fmt.Fprintf(bw, "event: message\nid: %d\ndata: %s\n\n", seq, payload)
		bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, msg := range replay {
		writeFrame(msg.Sequence, msg.Payload)
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-live:
			if !ok {
				return
			}
			writeFrame(msg.Sequence, msg.Payload)
		}
	}
}

// handleSessionGet implements GET /rpc/sessions/:sessionId: subscribe to a
// session's universal event bus (session.started/ended, item.*, turn.*,
// permission.*, question.*) via SSE. This is distinct from GET /rpc, which
// streams one connection's raw adapter passthrough.
func (s *Server) handleSessionGet(c *gin.Context) {
	if !acceptsEventStream(c.GetHeader("Accept")) {
		writeProblem(c, http.StatusNotAcceptable, "NotAcceptable", "Not Acceptable", "Accept header must include text/event-stream")
		return
	}
	sessionID := c.Param("sessionId")

	var afterSeq uint64
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "Last-Event-ID must be a non-negative integer")
			return
		}
		afterSeq = n
	}

	_, replay, sub, err := s.session.Subscribe(sessionID, afterSeq)
	if err != nil {
		writeAppError(c, err)
		return
	}
	defer sub.Unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	w := c.Writer
	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)

	writeFrame := func(ev schema.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(bw, "event: message\nid: %d\ndata: %s\n\n", ev.Sequence, payload)
		bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, ev := range replay {
		writeFrame(ev)
	}

	ctx := c.Request.Context()
	ch := sub.C()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeFrame(ev)
		}
	}
}

// handleDelete implements DELETE /rpc: close a connection.
func (s *Server) handleDelete(c *gin.Context) {
	connectionID := c.GetHeader(connectionIDHeader)
	if connectionID == "" {
		writeProblem(c, http.StatusBadRequest, "InvalidRequest", "Invalid Request", "X-ACP-Connection-Id is required")
		return
	}
	if err := s.proxy.Delete(c.Request.Context(), connectionID); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func isJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

func acceptsJSON(accept string) bool {
	return accept == "" || strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*")
}

func acceptsEventStream(accept string) bool {
	return strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "*/*")
}
