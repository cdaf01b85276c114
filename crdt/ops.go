package crdt

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Op is a replicated document operation. Operations are value types: they can
// be broadcast, stored and reapplied freely, and carry a unique id for
// duplicate detection.
type Op interface {
	// OpID returns the globally unique identifier of this operation.
	OpID() string
	// apply merges the operation into a replica.
	apply(d *Doc)
	// clock returns the logical clock carried by the operation.
	clock() uint32
	fmt.Stringer
}

// InsertOp carries a full record: the interpolated position identifier and
// the inserted value.
type InsertOp struct {
	Record Record
}

func (op *InsertOp) OpID() string  { return "i/" + op.Record.ID.key() }
func (op *InsertOp) clock() uint32 { return op.Record.ID.Clock }
func (op *InsertOp) apply(d *Doc)  { d.insertRecord(op.Record) }
func (op *InsertOp) String() string {
	return fmt.Sprintf("insert(%q,%v)", op.Record.Value, op.Record.ID)
}

// DeleteOp tombstones the record with the given identifier.
type DeleteOp struct {
	Target ID
}

func (op *DeleteOp) OpID() string  { return "d/" + op.Target.key() }
func (op *DeleteOp) clock() uint32 { return op.Target.Clock }
func (op *DeleteOp) apply(d *Doc)  { d.tombstone(op.Target) }
func (op *DeleteOp) String() string {
	return fmt.Sprintf("delete(%v)", op.Target)
}

// +-------------+
// | Wire format |
// +-------------+

// wireOp is the transport form of an operation.
type wireOp struct {
	Kind  string `json:"kind"`
	ID    ID     `json:"pid"`
	Value string `json:"value,omitempty"`
}

// EncodeOp serializes an operation for the transport.
func EncodeOp(op Op) ([]byte, error) {
	switch o := op.(type) {
	case *InsertOp:
		return json.Marshal(wireOp{Kind: "insert", ID: o.Record.ID, Value: string(o.Record.Value)})
	case *DeleteOp:
		return json.Marshal(wireOp{Kind: "delete", ID: o.Target})
	}
	return nil, fmt.Errorf("unknown operation %T", op)
}

// DecodeOp deserializes an operation received from the transport.
func DecodeOp(data []byte) (Op, error) {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "insert":
		value, size := utf8.DecodeRuneInString(w.Value)
		if size == 0 || value == utf8.RuneError && size == 1 {
			return nil, fmt.Errorf("insert op with invalid value %q", w.Value)
		}
		return &InsertOp{Record: Record{ID: w.ID, Value: value, Visible: true}}, nil
	case "delete":
		return &DeleteOp{Target: w.ID}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", w.Kind)
}
