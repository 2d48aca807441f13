package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKeyDistinguishesStringAndNumber(t *testing.T) {
	stringKey, err := IDKey(json.RawMessage(`"7"`))
	require.NoError(t, err)

	numberKey, err := IDKey(json.RawMessage(`7`))
	require.NoError(t, err)

	assert.NotEqual(t, stringKey, numberKey)
}

func TestIDKeyCompactsWhitespace(t *testing.T) {
	a, err := IDKey(json.RawMessage(`7`))
	require.NoError(t, err)
	b, err := IDKey(json.RawMessage(` 7 `))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIDKeyRejectsEmpty(t *testing.T) {
	_, err := IDKey(nil)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want Kind
	}{
		{"request", Envelope{Method: "session/new", ID: json.RawMessage(`1`)}, KindRequest},
		{"notification", Envelope{Method: "session/update"}, KindNotification},
		{"response-result", Envelope{ID: json.RawMessage(`1`), Result: json.RawMessage(`{}`)}, KindResponse},
		{"response-error", Envelope{ID: json.RawMessage(`1`), Error: &ErrorObject{Code: -32600, Message: "bad"}}, KindResponse},
		{"invalid-both", Envelope{Method: "x", Result: json.RawMessage(`{}`)}, KindInvalid},
		{"invalid-empty", Envelope{}, KindInvalid},
		{"null-id-notification-like", Envelope{Method: "x", ID: json.RawMessage(`null`)}, KindNotification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.env.Classify())
		})
	}
}
