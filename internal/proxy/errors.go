package proxy

import (
	"strings"

	"github.com/kandev/acp-gateway/internal/adapter"
	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
)

// errorHints maps a substring of an agent's adapter error message to a short
// operator-facing annotation.
var errorHints = map[agent.Kind][]struct{ substr, hint string }{
	agent.Claude: {
		{"ANTHROPIC_API_KEY", "missing or invalid Anthropic API key"},
		{"rate_limit", "rate limited by the Anthropic API"},
	},
	agent.Codex: {
		{"OPENAI_API_KEY", "missing or invalid OpenAI API key"},
	},
	agent.OpenCode: {
		{"ENOENT", "opencode binary not found on PATH"},
	},
}

// annotateAgentError sets a short hint as err's Detail when stderrTail
// contains a known failure signature for kind. It never changes err's Kind
// or Msg. The only caller, mapAdapterError, passes the adapter error's
// message; the subprocess's captured stderr is not consulted.
func annotateAgentError(kind agent.Kind, err *apperrors.AppError, stderrTail string) *apperrors.AppError {
	for _, rule := range errorHints[kind] {
		if strings.Contains(stderrTail, rule.substr) {
			return err.WithDetail(rule.hint)
		}
	}
	return err
}

// mapAdapterError converts an internal/adapter error into the fixed
// protocol-error taxonomy per the proxy's error mapping table:
// InvalidEnvelope -> InvalidRequest, Timeout -> Timeout,
// Serialize -> InvalidRequest, Write/MissingStdin/out/err/Spawn -> StreamError.
func (r *Runtime) mapAdapterError(kind agent.Kind, err error) error {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}

	adapterErr, ok := err.(*adapter.Error)
	if !ok {
		return apperrors.Wrap(apperrors.KindStreamError, "adapter error", err)
	}

	var mapped *apperrors.AppError
	switch adapterErr.Kind {
	case adapter.ErrInvalidEnvelope:
		mapped = apperrors.Wrap(apperrors.KindInvalidRequest, "invalid JSON-RPC envelope", adapterErr)
	case adapter.ErrTimeout:
		mapped = apperrors.Wrap(apperrors.KindTimeout, "agent did not respond in time", adapterErr)
	case adapter.ErrSerialize:
		mapped = apperrors.Wrap(apperrors.KindInvalidRequest, "failed to serialize request", adapterErr)
	case adapter.ErrShuttingDown:
		mapped = apperrors.Wrap(apperrors.KindStreamError, "agent subprocess is shutting down", adapterErr)
	default:
		mapped = apperrors.Wrap(apperrors.KindStreamError, "agent subprocess error", adapterErr)
	}

	return annotateAgentError(kind, mapped, adapterErr.Error())
}
