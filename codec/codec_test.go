package codec

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestJSON_Pack(t *testing.T) {
	sentAt := strfmt.DateTime(time.Now().UTC().Truncate(time.Millisecond))
	data, err := JSON().Pack(Envelope{
		NodeID: "node-a",
		Name:   "ping",
		Args:   []any{42, "x", map[string]any{"k": true}},
		SentAt: sentAt,
	})
	require.NoError(t, err)

	assert.True(t, gjson.ValidBytes(data))
	result := gjson.ParseBytes(data)
	assert.Equal(t, "node-a", result.Get("nodeId").String())
	assert.Equal(t, "ping", result.Get("name").String())
	assert.Equal(t, int64(42), result.Get("args.0").Int())
	assert.Equal(t, "x", result.Get("args.1").String())
	assert.True(t, result.Get("args.2.k").Bool())
	assert.Equal(t, sentAt.String(), result.Get("sentAt").String())
}

func TestJSON_PackWithoutArgs(t *testing.T) {
	data, err := JSON().Pack(Envelope{NodeID: "n", Name: "empty"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodeId":"n","name":"empty","args":[]}`, string(data))
}

func TestJSON_PackUnsupportedArg(t *testing.T) {
	_, err := JSON().Pack(Envelope{Name: "bad", Args: []any{math.NaN()}})
	assert.Error(t, err)
}

func TestJSON_Unpack(t *testing.T) {
	env, err := JSON().Unpack([]byte(`{
    "nodeId": "node-b",
    "name": "ping",
    "args": [42, "x", null, {"k": [1, 2]}],
    "sentAt": "2024-05-01T10:00:00.000Z"
  }`))
	require.NoError(t, err)
	assert.Equal(t, "node-b", env.NodeID)
	assert.Equal(t, "ping", env.Name)
	assert.Equal(t, []any{float64(42), "x", nil, map[string]any{"k": []any{float64(1), float64(2)}}}, env.Args)
	assert.Equal(t, "2024-05-01T10:00:00.000Z", env.SentAt.String())
}

func TestJSON_UnpackMissingArgs(t *testing.T) {
	env, err := JSON().Unpack([]byte(`{"nodeId":"n","name":"bare"}`))
	require.NoError(t, err)
	assert.Equal(t, []any{}, env.Args)
	assert.True(t, env.SentAt.IsZero())
}

func TestJSON_UnpackErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"name":`},
		{"not an object", `["ping"]`},
		{"missing name", `{"nodeId":"n","args":[]}`},
		{"name not a string", `{"name":7}`},
		{"args not an array", `{"name":"x","args":{"a":1}}`},
		{"bad timestamp", `{"name":"x","sentAt":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSON().Unpack([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrInvalidEnvelope), "got %v", err)
		})
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	c := JSON()
	in := Envelope{NodeID: "n", Name: "chat", Args: []any{"hi", float64(1.5), true}}
	data, err := c.Pack(in)
	require.NoError(t, err)
	out, err := c.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFuncs(t *testing.T) {
	var packed Envelope
	c := Funcs(
		func(env Envelope) ([]byte, error) {
			packed = env
			return []byte(env.Name), nil
		},
		func(data []byte) (Envelope, error) {
			return Envelope{Name: string(data)}, nil
		},
	)

	data, err := c.Pack(Envelope{Name: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", packed.Name)

	env, err := c.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, "custom", env.Name)
}
