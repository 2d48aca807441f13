// Package schema implements a language-neutral event/item model that every
// per-agent converter maps its native dialect onto, preserving wire order
// and distinguishing gateway-synthesized events from authentic agent
// output.
package schema

import "encoding/json"

// EventType is the closed UniversalEventType enumeration.
type EventType string

const (
	EventSessionStarted      EventType = "session.started"
	EventSessionEnded        EventType = "session.ended"
	EventItemStarted         EventType = "item.started"
	EventItemDelta           EventType = "item.delta"
	EventItemCompleted       EventType = "item.completed"
	EventTurnStarted         EventType = "turn.started"
	EventTurnEnded           EventType = "turn.ended"
	EventPermissionRequested EventType = "permission.requested"
	EventPermissionResolved  EventType = "permission.resolved"
	EventQuestionRequested   EventType = "question.requested"
	EventQuestionResolved    EventType = "question.resolved"
	EventError               EventType = "error"
	EventAgentUnparsed       EventType = "agent.unparsed"
)

// ItemKind is the closed UniversalItem.kind enumeration.
type ItemKind string

const (
	ItemMessage   ItemKind = "message"
	ItemToolCall  ItemKind = "tool_call"
	ItemToolResult ItemKind = "tool_result"
	ItemReasoning ItemKind = "reasoning"
	ItemStatus    ItemKind = "status"
)

// Role is the closed UniversalItem.role enumeration.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ItemStatus is the closed UniversalItem.status enumeration.
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// FileAction is the closed ContentPart.FileRef.action enumeration.
type FileAction string

const (
	FileRead   FileAction = "read"
	FileWrite  FileAction = "write"
	FileCreate FileAction = "create"
	FileDelete FileAction = "delete"
)

// Visibility is the closed ContentPart.Reasoning.visibility enumeration.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ContentPart is a tagged-union content item. Exactly one of the typed
// fields is populated, selected by Type.
type ContentPart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallName string          `json:"name,omitempty"`
	ToolCallArgs json.RawMessage `json:"arguments,omitempty"`
	CallID       string          `json:"callId,omitempty"`

	ToolResultOutput json.RawMessage `json:"output,omitempty"`

	ReasoningVisibility Visibility `json:"visibility,omitempty"`

	FilePath   string     `json:"path,omitempty"`
	FileAction FileAction `json:"action,omitempty"`
	FileDiff   string     `json:"diff,omitempty"`

	ImagePath string `json:"imagePath,omitempty"`
	ImageMime string `json:"mime,omitempty"`

	StatusLabel  string `json:"label,omitempty"`
	StatusDetail string `json:"detail,omitempty"`

	JSON json.RawMessage `json:"json,omitempty"`
}

func TextPart(text string) ContentPart { return ContentPart{Type: "text", Text: text} }

func ToolCallPart(name, callID string, args json.RawMessage) ContentPart {
	return ContentPart{Type: "tool_call", ToolCallName: name, CallID: callID, ToolCallArgs: args}
}

func ToolResultPart(callID string, output json.RawMessage) ContentPart {
	return ContentPart{Type: "tool_result", CallID: callID, ToolResultOutput: output}
}

func ReasoningPart(text string, vis Visibility) ContentPart {
	return ContentPart{Type: "reasoning", Text: text, ReasoningVisibility: vis}
}

func FileRefPart(path string, action FileAction, diff string) ContentPart {
	return ContentPart{Type: "file_ref", FilePath: path, FileAction: action, FileDiff: diff}
}

func ImagePart(path, mime string) ContentPart {
	return ContentPart{Type: "image", ImagePath: path, ImageMime: mime}
}

func StatusPart(label, detail string) ContentPart {
	return ContentPart{Type: "status", StatusLabel: label, StatusDetail: detail}
}

func JSONPart(raw json.RawMessage) ContentPart {
	return ContentPart{Type: "json", JSON: raw}
}

// Item is the UniversalItem record.
type Item struct {
	ItemID       string        `json:"item_id"`
	NativeItemID string        `json:"native_item_id,omitempty"`
	ParentID     string        `json:"parent_id,omitempty"`
	Kind         ItemKind      `json:"kind"`
	Role         Role          `json:"role,omitempty"`
	Content      []ContentPart `json:"content"`
	Status       ItemStatus    `json:"status"`
}

// Source identifies where an event originated.
type Source struct {
	Agent   string `json:"agent"`
	Sandbox string `json:"sandbox,omitempty"`
}

// Event is one entry in a session's universal event stream.
type Event struct {
	EventID          string          `json:"event_id"`
	Sequence         uint64          `json:"sequence"`
	Time             string          `json:"time"`
	SessionID        string          `json:"session_id"`
	NativeSessionID  string          `json:"native_session_id,omitempty"`
	Source           Source          `json:"source"`
	Synthetic        bool            `json:"synthetic"`
	Type             EventType       `json:"type"`
	Data             any             `json:"data"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// Data payload shapes, one per EventType. Converters populate exactly the
// shape matching the Event's Type.

type SessionStartedData struct {
	NativeSessionID string         `json:"native_session_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type EndedReason string

const (
	EndedCompleted  EndedReason = "completed"
	EndedError      EndedReason = "error"
	EndedTerminated EndedReason = "terminated"
)

type TerminatedBy string

const (
	TerminatedByAgent  TerminatedBy = "agent"
	TerminatedByDaemon TerminatedBy = "daemon"
)

type SessionEndedData struct {
	Reason       EndedReason  `json:"reason"`
	TerminatedBy TerminatedBy `json:"terminated_by,omitempty"`
	Message      string       `json:"message,omitempty"`
	ExitCode     *int         `json:"exit_code,omitempty"`
	Stderr       any          `json:"stderr,omitempty"`
}

type ItemStartedData struct{ Item Item `json:"item"` }
type ItemCompletedData struct{ Item Item `json:"item"` }

type ItemDeltaData struct {
	ItemID string      `json:"item_id"`
	Delta  ContentPart `json:"delta"`
}

type TurnStartedData struct{ TurnID string `json:"turn_id"` }

type TurnEndedData struct {
	TurnID string `json:"turn_id"`
	Reason string `json:"reason,omitempty"`
}

type PermissionAction string

type PermissionRequestedData struct {
	PermissionID string         `json:"permission_id"`
	Action       string         `json:"action"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type PermissionOutcome string

const (
	PermissionAccept           PermissionOutcome = "accept"
	PermissionAcceptForSession PermissionOutcome = "accept_for_session"
	PermissionReject           PermissionOutcome = "reject"
)

type PermissionResolvedData struct {
	PermissionID string            `json:"permission_id"`
	Status       PermissionOutcome `json:"status"`
}

type QuestionRequestedData struct {
	QuestionID string   `json:"question_id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options,omitempty"`
}

type QuestionResolvedData struct {
	QuestionID string     `json:"question_id"`
	Answers    [][]string `json:"answers,omitempty"`
	Rejected   bool       `json:"rejected,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type AgentUnparsedData struct {
	Raw json.RawMessage `json:"raw"`
}

// Conversion is one converter output: a single universal event's shape,
// before sequence/event-id/time assignment (which the session manager does
// under the bus lock). Converters must emit these in wire order.
type Conversion struct {
	Type            EventType
	Data            any
	Synthetic       bool
	NativeSessionID string
	Raw             json.RawMessage
}

// Converter turns one native agent stdout line (already known to be a
// notification, i.e. method != "") into zero or more ordered Conversions.
// Converters never block.
type Converter interface {
	Convert(method string, params json.RawMessage) []Conversion
}
