/*
Package protocol defines the messages exchanged between replicas and the
serializing server, independent of the transport that carries them.

Every frame is one Message envelope; the Type field selects which payload
pointer is set. Operation payloads carry their compound as a list of wire
primitives, together with the originating site, its logical clock, the server
version they were generated against, and a unique op id used for
acknowledgment and duplicate detection.
*/
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/coedit-labs/coedit/ot"
)

// Message types.
const (
	TypeOperation      = "operation"
	TypeAck            = "ack"
	TypeResyncRequest  = "resync_request"
	TypeResyncResponse = "resync_response"
)

// Message is the envelope for every protocol frame.
type Message struct {
	Type           string          `json:"type"`
	Operation      *Operation      `json:"operation,omitempty"`
	Ack            *Ack            `json:"ack,omitempty"`
	ResyncRequest  *ResyncRequest  `json:"resyncRequest,omitempty"`
	ResyncResponse *ResyncResponse `json:"resyncResponse,omitempty"`
}

// WireOp is the transport form of a single edit primitive.
type WireOp struct {
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Operation carries a compound operation, client to server and, after
// canonicalization, server to clients. Version is zero on the way in and the
// assigned version on the way out.
type Operation struct {
	Ops         []WireOp `json:"ops"`
	SiteID      string   `json:"siteId"`
	Clock       uint64   `json:"clock"`
	BaseVersion int      `json:"baseVersion"`
	OpID        string   `json:"opId"`
	Version     int      `json:"version,omitempty"`
}

// Ack confirms one operation to its originating client.
type Ack struct {
	OpID       string `json:"opId"`
	NewVersion int    `json:"newVersion"`
}

// ResyncRequest asks for everything the client missed since FromVersion.
type ResyncRequest struct {
	FromVersion int `json:"fromVersion"`
}

// ResyncResponse carries a full snapshot plus the operations after it. When
// the requested version is still within the server's retained history,
// Operations alone bridge the gap and Snapshot holds the content at Version
// anyway, so the client can always restart from it.
type ResyncResponse struct {
	Snapshot   string      `json:"snapshot"`
	Version    int         `json:"version"`
	Operations []Operation `json:"operations"`
}

// +------------+
// | Conversion |
// +------------+

// EncodeOps converts engine primitives to their wire form.
func EncodeOps(ops ot.Ops) []WireOp {
	out := make([]WireOp, len(ops))
	for i, op := range ops {
		switch o := op.(type) {
		case *ot.Insert:
			out[i] = WireOp{Kind: "insert", Position: o.Pos, Text: o.Text}
		case *ot.Delete:
			out[i] = WireOp{Kind: "delete", Position: o.Pos, Length: o.Len}
		}
	}
	return out
}

// DecodeOps converts wire primitives back to engine form. Malformed
// primitives are rejected here, before they can reach a document.
func DecodeOps(wire []WireOp) (ot.Ops, error) {
	ops := make(ot.Ops, len(wire))
	for i, w := range wire {
		switch w.Kind {
		case "insert":
			if w.Position < 0 {
				return nil, fmt.Errorf("insert at %d: %w", w.Position, ot.ErrInvalidOp)
			}
			ops[i] = &ot.Insert{Pos: w.Position, Text: w.Text}
		case "delete":
			if w.Position < 0 || w.Length <= 0 {
				return nil, fmt.Errorf("delete [%d,%d): %w", w.Position, w.Position+w.Length, ot.ErrInvalidOp)
			}
			ops[i] = &ot.Delete{Pos: w.Position, Len: w.Length}
		default:
			return nil, fmt.Errorf("unknown op kind %q: %w", w.Kind, ot.ErrInvalidOp)
		}
	}
	return ops, nil
}

// UpdateMessage wraps a client update as an operation frame.
func UpdateMessage(u *ot.Update, clock uint64) Message {
	return Message{
		Type: TypeOperation,
		Operation: &Operation{
			Ops:         EncodeOps(u.Ops),
			SiteID:      u.Site,
			Clock:       clock,
			BaseVersion: u.BaseVersion,
			OpID:        u.OpID,
		},
	}
}

// ChangeMessage wraps a canonicalized change as an operation frame.
func ChangeMessage(ch ot.Change) Message {
	return Message{
		Type: TypeOperation,
		Operation: &Operation{
			Ops:     EncodeOps(ch.Ops),
			SiteID:  ch.Site,
			OpID:    ch.OpID,
			Version: ch.Version,
		},
	}
}

// Marshal serializes a message frame.
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses a message frame and checks that the payload matching its
// type is present.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	var ok bool
	switch m.Type {
	case TypeOperation:
		ok = m.Operation != nil
	case TypeAck:
		ok = m.Ack != nil
	case TypeResyncRequest:
		ok = m.ResyncRequest != nil
	case TypeResyncResponse:
		ok = m.ResyncResponse != nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	if !ok {
		return Message{}, fmt.Errorf("message type %q without payload", m.Type)
	}
	return m, nil
}
