package schema

import "encoding/json"

// ClaudeConverter understands Claude Code's ACP session/update dialect:
// sessionUpdate ∈ {user_message_chunk, agent_message_chunk, agent_thought_chunk,
// tool_call, tool_call_update, plan}, each carrying a content block keyed by
// a stable item/tool-call id, matching the coder/acp-go-sdk wire shapes this
// agent actually emits.
type ClaudeConverter struct{}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (ClaudeConverter) Convert(method string, params json.RawMessage) []Conversion {
	if method != "session/update" {
		return nil
	}
	var payload struct {
		SessionUpdate string              `json:"sessionUpdate"`
		ItemID        string              `json:"toolCallId"`
		Content       claudeContentBlock  `json:"content"`
		Title         string              `json:"title"`
		Status        string              `json:"status"`
		RawInput      json.RawMessage     `json:"rawInput"`
		Entries       []json.RawMessage   `json:"entries"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
	}

	switch payload.SessionUpdate {
	case "user_message_chunk":
		item := Item{Kind: ItemMessage, Role: RoleUser, Status: StatusCompleted, Content: []ContentPart{TextPart(payload.Content.Text)}}
		return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: item}, Raw: params}}

	case "agent_message_chunk":
		return []Conversion{{
			Type: EventItemDelta,
			Data: ItemDeltaData{ItemID: "assistant-message", Delta: TextPart(payload.Content.Text)},
			Raw:  params,
		}}

	case "agent_thought_chunk":
		return []Conversion{{
			Type: EventItemDelta,
			Data: ItemDeltaData{ItemID: "assistant-reasoning", Delta: ReasoningPart(payload.Content.Text, VisibilityPrivate)},
			Raw:  params,
		}}

	case "tool_call":
		item := Item{
			ItemID: payload.ItemID, Kind: ItemToolCall, Role: RoleAssistant,
			Status:  StatusInProgress,
			Content: []ContentPart{ToolCallPart(payload.Title, payload.ItemID, payload.RawInput)},
		}
		return []Conversion{{Type: EventItemStarted, Data: ItemStartedData{Item: item}, Raw: params}}

	case "tool_call_update":
		status := StatusInProgress
		switch payload.Status {
		case "completed":
			status = StatusCompleted
		case "failed":
			status = StatusFailed
		}
		if status == StatusInProgress {
			return nil
		}
		item := Item{
			ItemID: payload.ItemID, Kind: ItemToolResult, Role: RoleTool,
			Status:  status,
			Content: []ContentPart{ToolResultPart(payload.ItemID, payload.RawInput)},
		}
		return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: item}, Raw: params}}

	case "plan":
		return []Conversion{{
			Type: EventItemDelta,
			Data: ItemDeltaData{ItemID: "plan", Delta: StatusPart("plan", payload.Title)},
			Raw:  params,
		}}
	}
	return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
}
