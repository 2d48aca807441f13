package schema

import "github.com/kandev/acp-gateway/internal/agent"

// ForKind returns the Converter for an AgentKind. Amp, Pi, and Cursor share
// OpenCode's part-based shape closely enough (all three are ACP-native
// forks with the same streaming-part convention) to reuse OpenCodeConverter;
// Mock gets its own trivial dialect.
func ForKind(kind agent.Kind) Converter {
	switch kind {
	case agent.Claude:
		return ClaudeConverter{}
	case agent.Codex:
		return CodexConverter{}
	case agent.OpenCode, agent.Amp, agent.Pi, agent.Cursor:
		return OpenCodeConverter{}
	case agent.Mock:
		return MockConverter{}
	default:
		return MockConverter{}
	}
}
