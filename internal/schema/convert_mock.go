package schema

import "encoding/json"

// MockConverter understands the built-in mock agent's session/update dialect
// (see cmd/mockagent): sessionUpdate ∈ {agent_message_chunk, agent_message_delta}.
type MockConverter struct{}

func (MockConverter) Convert(method string, params json.RawMessage) []Conversion {
	if method != "session/update" {
		return nil
	}
	var payload struct {
		SessionUpdate string `json:"sessionUpdate"`
		ItemID        string `json:"itemId"`
		Status        string `json:"status"`
		Text          string `json:"text"`
		Delta         string `json:"delta"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
	}

	switch payload.SessionUpdate {
	case "agent_message_chunk":
		item := Item{ItemID: payload.ItemID, Kind: ItemMessage, Role: RoleAssistant}
		if payload.Status == "completed" {
			item.Status = StatusCompleted
			item.Content = []ContentPart{TextPart(payload.Text)}
			return []Conversion{{Type: EventItemCompleted, Data: ItemCompletedData{Item: item}, Raw: params}}
		}
		item.Status = StatusInProgress
		return []Conversion{{Type: EventItemStarted, Data: ItemStartedData{Item: item}, Raw: params}}

	case "agent_message_delta":
		return []Conversion{{
			Type: EventItemDelta,
			Data: ItemDeltaData{ItemID: payload.ItemID, Delta: TextPart(payload.Delta)},
			Raw:  params,
		}}
	}
	return []Conversion{{Type: EventAgentUnparsed, Data: AgentUnparsedData{Raw: params}, Raw: params}}
}
