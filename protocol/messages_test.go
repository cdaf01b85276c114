package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-labs/coedit/ot"
	"github.com/coedit-labs/coedit/protocol"
)

// Frame layout is part of the public protocol; clients in other languages
// depend on these exact field names.
func TestOperationFrameLayout(t *testing.T) {
	u := &ot.Update{
		Ops:         ot.Ops{&ot.Insert{Pos: 3, Text: "hi"}, &ot.Delete{Pos: 5, Len: 2}},
		Site:        "site-1",
		BaseVersion: 4,
		OpID:        "op-9",
	}
	frame, err := protocol.Marshal(protocol.UpdateMessage(u, 17))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.JSONEq(t, `"operation"`, string(raw["type"]))
	assert.JSONEq(t, `{
		"ops": [
			{"kind": "insert", "position": 3, "text": "hi"},
			{"kind": "delete", "position": 5, "length": 2}
		],
		"siteId": "site-1",
		"clock": 17,
		"baseVersion": 4,
		"opId": "op-9"
	}`, string(raw["operation"]))
}

func TestUpdateRoundTrip(t *testing.T) {
	want := ot.Ops{&ot.Insert{Pos: 0, Text: "a"}, &ot.Delete{Pos: 1, Len: 3}}
	frame, err := protocol.Marshal(protocol.UpdateMessage(&ot.Update{
		Ops: want, Site: "s", BaseVersion: 0, OpID: "op-1",
	}, 1))
	require.NoError(t, err)

	msg, err := protocol.Unmarshal(frame)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeOperation, msg.Type)
	got, err := protocol.DecodeOps(msg.Operation.Ops)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeOpsRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire protocol.WireOp
	}{
		{"unknown kind", protocol.WireOp{Kind: "replace", Position: 0}},
		{"negative insert position", protocol.WireOp{Kind: "insert", Position: -1, Text: "x"}},
		{"zero-length delete", protocol.WireOp{Kind: "delete", Position: 0, Length: 0}},
		{"negative delete position", protocol.WireOp{Kind: "delete", Position: -2, Length: 1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := protocol.DecodeOps([]protocol.WireOp{test.wire})
			assert.ErrorIs(t, err, ot.ErrInvalidOp)
		})
	}
}

func TestUnmarshalRejectsBadEnvelopes(t *testing.T) {
	_, err := protocol.Unmarshal([]byte(`{"type": "operation"}`))
	assert.Error(t, err, "payload missing for its type")

	_, err = protocol.Unmarshal([]byte(`{"type": "shutdown"}`))
	assert.Error(t, err, "unknown type")
}
