package schema

import "encoding/json"

// OpenCodeConverter understands OpenCode's part-based dialect: a "part" is
// the streaming unit (text/tool/reasoning), identified by a part id that is
// stable across its updated→completed lifecycle, with a boolean
// `synthetic` flag OpenCode itself sets for its own injected status parts
// (distinct from this gateway's own Conversion.Synthetic).
type OpenCodeConverter struct{}

type opencodePart struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ToolName  string          `json:"tool"`
	CallID    string          `json:"callID"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	State     string          `json:"state"`
	Completed bool            `json:"completed"`
}

func (OpenCodeConverter) Convert(method string, params json.RawMessage) []Conversion {
	if method != "session/update" {
		return nil
	}
	var payload struct {
		SessionUpdate string       `json:"sessionUpdate"`
		Part          opencodePart `json:"part"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
	}

	part := payload.Part
	switch payload.SessionUpdate {
	case "message.part.updated":
		switch part.Type {
		case "text":
			if part.Completed {
				item := Item{ItemID: part.ID, Kind: ItemMessage, Role: RoleAssistant, Status: StatusCompleted, Content: []ContentPart{TextPart(part.Text)}}
				return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: item}, Raw: params}}
			}
			return []Conversion{{Type: EventItemDelta, Data: ItemDeltaData{ItemID: part.ID, Delta: TextPart(part.Text)}, Raw: params}}

		case "reasoning":
			return []Conversion{{Type: EventItemDelta, Data: ItemDeltaData{ItemID: part.ID, Delta: ReasoningPart(part.Text, VisibilityPublic)}, Raw: params}}

		case "tool":
			status := StatusInProgress
			if part.State == "completed" {
				status = StatusCompleted
			} else if part.State == "error" {
				status = StatusFailed
			}
			if status == StatusInProgress {
				item := Item{ItemID: part.ID, Kind: ItemToolCall, Role: RoleAssistant, Status: status, Content: []ContentPart{ToolCallPart(part.ToolName, part.CallID, part.Input)}}
				return []Conversion{{Type: EventItemStarted, Data: ItemStartedData{Item: item}, Raw: params}}
			}
			item := Item{ItemID: part.ID, Kind: ItemToolResult, Role: RoleTool, Status: status, Content: []ContentPart{ToolResultPart(part.CallID, part.Output)}}
			return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: item}, Raw: params}}

		case "step-start":
			return []Conversion{{Type: EventTurnStarted, Data: TurnStartedData{TurnID: part.ID}, Raw: params}}

		case "step-finish":
			return []Conversion{{Type: EventTurnEnded, Data: TurnEndedData{TurnID: part.ID}, Raw: params}}
		}
	}
	return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
}
