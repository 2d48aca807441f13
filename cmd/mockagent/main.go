// Command mockagent is the real subprocess binary behind the built-in "mock"
// AgentKind. It speaks the same line-delimited JSON-RPC 2.0 dialect as any
// other agent so it can be driven through the ordinary Adapter Runtime /
// ACP Proxy Runtime pipeline end to end, producing event sequences
// indistinguishable in shape from a real agent. It is also used by
// internal/adapter's integration tests as a scriptable fake agent.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type server struct {
	out       *bufio.Writer
	outMu     sync.Mutex
	waiters   map[string]chan envelope
	waitersMu sync.Mutex
	nextID    uint64
}

func main() {
	s := &server{
		out:     bufio.NewWriter(os.Stdout),
		waiters: make(map[string]chan envelope),
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}

		if isResponseShape(env) {
			s.deliverResponse(env)
			continue
		}

		cp := env
		go s.handle(cp)
	}
}

func isResponseShape(env envelope) bool {
	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	return hasID && env.Method == ""
}

func (s *server) deliverResponse(env envelope) {
	key := string(env.ID)
	s.waitersMu.Lock()
	ch, ok := s.waiters[key]
	if ok {
		delete(s.waiters, key)
	}
	s.waitersMu.Unlock()
	if ok {
		ch <- env
	}
}

func (s *server) write(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out.Write(raw)
	s.out.WriteByte('\n')
	s.out.Flush()
}

// requestClient issues a request TO the client (e.g. session/request_permission)
// and blocks until the matching response arrives.
func (s *server) requestClient(method string, params any) envelope {
	s.waitersMu.Lock()
	s.nextID++
	id := s.nextID
	key := fmt.Sprintf("%d", id)
	ch := make(chan envelope, 1)
	s.waiters[key] = ch
	s.waitersMu.Unlock()

	raw, _ := json.Marshal(params)
	s.write(envelope{JSONRPC: "2.0", ID: json.RawMessage(key), Method: method, Params: raw})

	return <-ch
}

func (s *server) handle(env envelope) {
	switch env.Method {
	case "initialize":
		if len(env.ID) == 0 {
			return
		}
		result, _ := json.Marshal(map[string]any{"protocolVersion": "1.0"})
		s.write(envelope{JSONRPC: "2.0", ID: env.ID, Result: result})

	case "session/new":
		sessionID := uuid.NewString()
		result, _ := json.Marshal(map[string]any{"sessionId": sessionID})
		s.write(envelope{JSONRPC: "2.0", ID: env.ID, Result: result})

	case "session/prompt":
		s.handlePrompt(env)

	case "session/request_permission":
		// Not expected inbound (this direction is agent→client); ignore.

	default:
		if len(env.ID) > 0 {
			errObj := &rpcError{Code: -32601, Message: "method not found: " + env.Method}
			s.write(envelope{JSONRPC: "2.0", ID: env.ID, Error: errObj})
		}
	}
}

type promptParams struct {
	SessionID string `json:"sessionId"`
	Prompt    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"prompt"`
}

func (s *server) handlePrompt(env envelope) {
	var params promptParams
	_ = json.Unmarshal(env.Params, &params)

	text := ""
	for _, p := range params.Prompt {
		if p.Type == "text" {
			text = p.Text
			break
		}
	}

	itemID := uuid.NewString()
	s.sessionUpdate(params.SessionID, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"itemId":        itemID,
		"status":        "in_progress",
	})

	reply := fmt.Sprintf("mock: %s", text)
	for _, chunk := range chunkString(reply, 8) {
		s.sessionUpdate(params.SessionID, map[string]any{
			"sessionUpdate": "agent_message_delta",
			"itemId":        itemID,
			"delta":         chunk,
		})
	}

	stopReason := "end_turn"
	if strings.Contains(text, "needs permission") {
		resp := s.requestClient("session/request_permission", map[string]any{
			"sessionId": params.SessionID,
			"toolCall":  map[string]any{"name": "mock_tool", "callId": uuid.NewString()},
			"options":   []string{"allow", "reject"},
		})
		outcome := "rejected"
		if resp.Result != nil {
			var r struct {
				Outcome struct {
					Outcome string `json:"outcome"`
				} `json:"outcome"`
			}
			_ = json.Unmarshal(resp.Result, &r)
			if r.Outcome.Outcome != "" {
				outcome = r.Outcome.Outcome
			}
		}
		if outcome == "cancelled" || outcome == "rejected" {
			stopReason = "end_turn"
		}
	}

	s.sessionUpdate(params.SessionID, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"itemId":        itemID,
		"status":        "completed",
		"text":          reply,
	})

	result, _ := json.Marshal(map[string]any{"stopReason": stopReason})
	s.write(envelope{JSONRPC: "2.0", ID: env.ID, Result: result})
}

func (s *server) sessionUpdate(sessionID string, update map[string]any) {
	update["sessionId"] = sessionID
	params, _ := json.Marshal(update)
	s.write(envelope{JSONRPC: "2.0", Method: "session/update", Params: params})
}

func chunkString(s string, n int) []string {
	if n <= 0 || len(s) <= n {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		if len(s) < n {
			out = append(out, s)
			break
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}
