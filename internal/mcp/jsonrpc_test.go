package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Kinds(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind Kind
	}{
		{
			name: "request with numeric id",
			line: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			kind: KindRequest,
		},
		{
			name: "request with string id",
			line: `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{}}`,
			kind: KindRequest,
		},
		{
			name: "notification",
			line: `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			kind: KindNotification,
		},
		{
			name: "null id is a notification",
			line: `{"jsonrpc":"2.0","id":null,"method":"ping"}`,
			kind: KindNotification,
		},
		{
			name: "success response",
			line: `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`,
			kind: KindResponse,
		},
		{
			name: "error response",
			line: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`,
			kind: KindResponse,
		},
		{
			name: "empty object",
			line: `{}`,
			kind: KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, frame.Kind())
		})
	}
}

func TestDecodeFrame_ToleratesUnknownFields(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list","_meta":{"x":1},"futureField":true}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, frame.Kind())
	assert.Equal(t, "tools/list", frame.Method)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"jsonrpc":`))
	require.Error(t, err)
}

func TestFrame_IDInt64(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`))
	require.NoError(t, err)

	id, ok := frame.IDInt64()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	frame, err = DecodeFrame([]byte(`{"jsonrpc":"2.0","id":"str","result":{}}`))
	require.NoError(t, err)

	_, ok = frame.IDInt64()
	assert.False(t, ok)
}

func TestNewRequest_OmitsNilParams(t *testing.T) {
	req, err := NewRequest(1, "tools/list", nil)
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, string(data))
}

func TestNewRequest_RawParamsPassThrough(t *testing.T) {
	raw := json.RawMessage(`{"x":1,"nested":{"y":[1,2,3]}}`)

	req, err := NewRequest(2, "tools/call", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, req.Params)
}

func TestNewResult_RawResultPassThrough(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"hi"}]}`)

	resp, err := NewResult(json.RawMessage(`5`), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, resp.Result)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":5,"result":{"content":[{"type":"text","text":"hi"}]}}`, string(data))
}

func TestNewError_NullIDForUnparseableRequests(t *testing.T) {
	resp := NewError(nil, CodeParseError, "parse error")

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, string(data))
}

func TestRewriteFields_PreservesUnknownFields(t *testing.T) {
	raw := json.RawMessage(`{"name":"echo","description":"d","inputSchema":{"type":"object"},"annotations":{"readOnlyHint":true}}`)

	out, err := RewriteFields(raw, map[string]func(string) string{
		"name": func(name string) string { return "fs__" + name },
	})
	require.NoError(t, err)

	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.JSONEq(t, `"fs__echo"`, string(obj["name"]))
	assert.JSONEq(t, `"d"`, string(obj["description"]))
	assert.JSONEq(t, `{"type":"object"}`, string(obj["inputSchema"]))
	assert.JSONEq(t, `{"readOnlyHint":true}`, string(obj["annotations"]))
}

func TestRewriteFields_AbsentFieldUntouched(t *testing.T) {
	raw := json.RawMessage(`{"uri":"file:///x"}`)

	out, err := RewriteFields(raw, map[string]func(string) string{
		"uri":  func(uri string) string { return "mcpd://fs/" + uri },
		"name": func(name string) string { return "fs__" + name },
	})
	require.NoError(t, err)

	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.JSONEq(t, `"mcpd://fs/file:///x"`, string(obj["uri"]))
	_, hasName := obj["name"]
	assert.False(t, hasName)
}
