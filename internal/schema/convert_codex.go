package schema

import "encoding/json"

// CodexConverter understands Codex's thread-event dialect: notifications
// carry a whole `item` object with `item_type` and a one-shot `status`
// rather than Claude's separately-named streaming sub-events. Codex does
// not stream text deltas, so item.delta is never emitted: an agent_message
// becomes an item.started+item.completed pair, while reasoning,
// command_execution and file_change items become a single item.completed
// with no item.started before it.
type CodexConverter struct{}

type codexItem struct {
	ID       string          `json:"id"`
	ItemType string          `json:"item_type"`
	Text     string          `json:"text"`
	Command  string          `json:"command"`
	Output   json.RawMessage `json:"aggregated_output"`
	Path     string          `json:"path"`
	Diff     string          `json:"diff"`
	Status   string          `json:"status"`
}

func (CodexConverter) Convert(method string, params json.RawMessage) []Conversion {
	if method != "session/update" {
		return nil
	}
	var payload struct {
		SessionUpdate string    `json:"sessionUpdate"`
		Item          codexItem `json:"item"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
	}

	if payload.SessionUpdate != "item_completed" {
		return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
	}

	item := payload.Item
	status := StatusCompleted
	if item.Status == "failed" {
		status = StatusFailed
	}

	switch item.ItemType {
	case "agent_message":
		uitem := Item{ItemID: item.ID, Kind: ItemMessage, Role: RoleAssistant, Status: status, Content: []ContentPart{TextPart(item.Text)}}
		return []Conversion{
			{Type: EventItemStarted, Data: ItemStartedData{Item: Item{ItemID: item.ID, Kind: ItemMessage, Role: RoleAssistant, Status: StatusInProgress}}, Raw: params},
			{Type: EventItemCompleted, Data: ItemCompletedData{Item: uitem}, Raw: params},
		}

	case "reasoning":
		uitem := Item{ItemID: item.ID, Kind: ItemReasoning, Role: RoleAssistant, Status: status, Content: []ContentPart{ReasoningPart(item.Text, VisibilityPublic)}}
		return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: uitem}, Raw: params}}

	case "command_execution":
		uitem := Item{
			ItemID: item.ID, Kind: ItemToolResult, Role: RoleTool, Status: status,
			Content: []ContentPart{ToolResultPart(item.ID, item.Output)},
		}
		return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: uitem}, Raw: params}}

	case "file_change":
		uitem := Item{
			ItemID: item.ID, Kind: ItemToolResult, Role: RoleTool, Status: status,
			Content: []ContentPart{FileRefPart(item.Path, FileWrite, item.Diff)},
		}
		return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: uitem}, Raw: params}}
	}
	return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
}
