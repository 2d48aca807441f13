package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/agent"
)

func TestMockConverterStreamingTriple(t *testing.T) {
	c := MockConverter{}

	started := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"agent_message_chunk","itemId":"i1","status":"in_progress"}`))
	require.Len(t, started, 1)
	assert.Equal(t, EventItemStarted, started[0].Type)

	delta := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"agent_message_delta","itemId":"i1","delta":"mock: hi"}`))
	require.Len(t, delta, 1)
	assert.Equal(t, EventItemDelta, delta[0].Type)

	completed := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"agent_message_chunk","itemId":"i1","status":"completed","text":"mock: hi"}`))
	require.Len(t, completed, 1)
	assert.Equal(t, EventItemCompleted, completed[0].Type)
}

func TestMockConverterIgnoresNonUpdateMethods(t *testing.T) {
	c := MockConverter{}
	out := c.Convert("_adapter/agent_exited", json.RawMessage(`{}`))
	assert.Nil(t, out)
}

func TestMockConverterUnparsedOnGarbage(t *testing.T) {
	c := MockConverter{}
	out := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"unknown_kind"}`))
	require.Len(t, out, 1)
	assert.Equal(t, EventAgentUnparsed, out[0].Type)
}

func TestClaudeConverterToolCallLifecycle(t *testing.T) {
	c := ClaudeConverter{}

	started := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"tool_call","toolCallId":"call-1","title":"Read"}`))
	require.Len(t, started, 1)
	assert.Equal(t, EventItemStarted, started[0].Type)
	data := started[0].Data.(ItemStartedData)
	assert.Equal(t, "call-1", data.Item.Content[0].CallID)

	completed := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"tool_call_update","toolCallId":"call-1","status":"completed"}`))
	require.Len(t, completed, 1)
	assert.Equal(t, EventItemCompleted, completed[0].Type)
}

func TestCodexConverterNonStreamingPair(t *testing.T) {
	c := CodexConverter{}
	out := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"item_completed","item":{"id":"m1","item_type":"agent_message","text":"hi","status":"completed"}}`))
	require.Len(t, out, 2)
	assert.Equal(t, EventItemStarted, out[0].Type)
	assert.Equal(t, EventItemCompleted, out[1].Type)
}

func TestOpenCodeConverterToolLifecycle(t *testing.T) {
	c := OpenCodeConverter{}

	started := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"message.part.updated","part":{"id":"p1","type":"tool","tool":"read","callID":"c1","state":"running"}}`))
	require.Len(t, started, 1)
	assert.Equal(t, EventItemStarted, started[0].Type)

	completed := c.Convert("session/update", json.RawMessage(`{"sessionUpdate":"message.part.updated","part":{"id":"p1","type":"tool","callID":"c1","state":"completed"}}`))
	require.Len(t, completed, 1)
	assert.Equal(t, EventItemCompleted, completed[0].Type)
}

func TestForKindCoversEveryAgentKind(t *testing.T) {
	for _, k := range agent.All() {
		assert.NotNil(t, ForKind(k))
	}
}
