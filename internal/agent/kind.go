// Package agent holds the closed AgentKind enumeration and the immutable
// LaunchSpec produced by the (out-of-scope) installer and consumed by the
// adapter runtime.
package agent

// Kind is the closed enumeration of agent backends the gateway knows how to
// speak to. Capabilities are static lookup tables, never discovered.
type Kind string

const (
	Claude   Kind = "claude"
	Codex    Kind = "codex"
	OpenCode Kind = "opencode"
	Amp      Kind = "amp"
	Pi       Kind = "pi"
	Cursor   Kind = "cursor"
	Mock     Kind = "mock"
)

// DialogMode is one of an agent's supported conversational modes (plan,
// build, ask, ...); the set is agent-specific.
type DialogMode string

// Capabilities describes what an AgentKind supports, looked up statically.
type Capabilities struct {
	PlanMode    bool
	Permissions bool
	Questions   bool
	ToolCalls   bool
	Images      bool
}

// Info is the static descriptor for one AgentKind.
type Info struct {
	Kind              Kind
	DisplayName       string
	BinaryHint        string
	RequiresBinary    bool
	Capabilities      Capabilities
	DialogModes       []DialogMode
}

var registry = map[Kind]Info{
	Claude: {
		Kind: Claude, DisplayName: "Claude Code", BinaryHint: "claude",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: true, Permissions: true, Questions: true, ToolCalls: true, Images: true},
		DialogModes:    []DialogMode{"default", "plan", "acceptEdits", "bypassPermissions"},
	},
	Codex: {
		Kind: Codex, DisplayName: "Codex", BinaryHint: "codex",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: false, Permissions: true, Questions: false, ToolCalls: true, Images: true},
		DialogModes:    []DialogMode{"default", "full-auto"},
	},
	OpenCode: {
		Kind: OpenCode, DisplayName: "OpenCode", BinaryHint: "opencode",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: true, Permissions: true, Questions: true, ToolCalls: true, Images: false},
		DialogModes:    []DialogMode{"build", "plan"},
	},
	Amp: {
		Kind: Amp, DisplayName: "Amp", BinaryHint: "amp",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: false, Permissions: true, Questions: true, ToolCalls: true, Images: true},
		DialogModes:    []DialogMode{"default"},
	},
	Pi: {
		Kind: Pi, DisplayName: "Pi", BinaryHint: "pi",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: false, Permissions: true, Questions: false, ToolCalls: true, Images: false},
		DialogModes:    []DialogMode{"default"},
	},
	Cursor: {
		Kind: Cursor, DisplayName: "Cursor", BinaryHint: "cursor-agent",
		RequiresBinary: true,
		Capabilities:   Capabilities{PlanMode: false, Permissions: true, Questions: true, ToolCalls: true, Images: true},
		DialogModes:    []DialogMode{"default"},
	},
	Mock: {
		Kind: Mock, DisplayName: "Mock", BinaryHint: "acp-gateway-mockagent",
		RequiresBinary: false,
		Capabilities:   Capabilities{PlanMode: true, Permissions: true, Questions: true, ToolCalls: true, Images: true},
		DialogModes:    []DialogMode{"default"},
	},
}

// Lookup returns the Info for a kind and whether it is a recognized member
// of the closed enumeration.
func Lookup(k Kind) (Info, bool) {
	info, ok := registry[k]
	return info, ok
}

// All returns every recognized AgentKind in declaration order.
func All() []Kind {
	return []Kind{Claude, Codex, OpenCode, Amp, Pi, Cursor, Mock}
}

// Parse validates a raw agent name against the closed enumeration.
func Parse(raw string) (Kind, bool) {
	k := Kind(raw)
	_, ok := registry[k]
	return k, ok
}
