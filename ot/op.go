/*
Package ot implements operational transformation over plain text.

Concurrent edits from multiple replicas are reconciled by rewriting one
operation in light of another generated against the same document state, so
that applying both in either order converges to the same content. The package
provides the operation model, the pairwise transform, the compose function
used to coalesce buffered local edits, the client synchronization state
machine, and the serializing server that establishes the global operation
order.
*/
package ot

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by operation handling.
var (
	ErrInvalidOp       = errors.New("operation out of document bounds")
	ErrVersionMismatch = errors.New("operation base version is stale")
	ErrResyncRequired  = errors.New("client state diverged, resync required")
)

// +-----------------+
// | Operation model |
// +-----------------+

// Op is a single edit primitive against a document state.
type Op interface {
	// Apply transforms s by this operation.
	Apply(s string) (string, error)
	// End returns the first document offset not affected by the operation.
	End() int
	fmt.Stringer
}

// Insert places Text at offset Pos.
type Insert struct {
	Pos  int
	Text string
}

func (op *Insert) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Pos > len(s) {
		return "", fmt.Errorf("insert at %d in document of length %d: %w", op.Pos, len(s), ErrInvalidOp)
	}
	return s[:op.Pos] + op.Text + s[op.Pos:], nil
}

func (op *Insert) End() int { return op.Pos + len(op.Text) }

func (op *Insert) String() string { return fmt.Sprintf("insert(%d,%q)", op.Pos, op.Text) }

// Delete removes Len units starting at offset Pos.
type Delete struct {
	Pos int
	Len int
}

func (op *Delete) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > len(s) {
		return "", fmt.Errorf("delete [%d,%d) in document of length %d: %w", op.Pos, op.Pos+op.Len, len(s), ErrInvalidOp)
	}
	return s[:op.Pos] + s[op.Pos+op.Len:], nil
}

func (op *Delete) End() int { return op.Pos + op.Len }

func (op *Delete) String() string { return fmt.Sprintf("delete(%d,%d)", op.Pos, op.Len) }

// Check validates an operation against a document length without applying it.
func Check(op Op, docLen int) error {
	switch o := op.(type) {
	case *Insert:
		if o.Pos < 0 || o.Pos > docLen {
			return fmt.Errorf("insert at %d in document of length %d: %w", o.Pos, docLen, ErrInvalidOp)
		}
	case *Delete:
		if o.Pos < 0 || o.Len <= 0 || o.Pos+o.Len > docLen {
			return fmt.Errorf("delete [%d,%d) in document of length %d: %w", o.Pos, o.Pos+o.Len, docLen, ErrInvalidOp)
		}
	default:
		return fmt.Errorf("unknown operation %T: %w", op, ErrInvalidOp)
	}
	return nil
}

func isNoop(op Op) bool {
	switch o := op.(type) {
	case *Insert:
		return o.Text == ""
	case *Delete:
		return o.Len == 0
	case nil:
		return true
	}
	return false
}

// +--------------+
// | Compound ops |
// +--------------+

// Ops is a compound operation: a sequence of primitives from a single
// replica, applied left to right. A compound is the unit that travels to the
// server and the unit held in the client's pending and buffered slots.
type Ops []Op

// Apply applies each primitive in order.
func (ops Ops) Apply(s string) (string, error) {
	var err error
	for _, op := range ops {
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

// IsEmpty reports whether the compound has no effect.
func (ops Ops) IsEmpty() bool {
	for _, op := range ops {
		if !isNoop(op) {
			return false
		}
	}
	return true
}

func (ops Ops) String() string {
	strs := make([]string, len(ops))
	for i, op := range ops {
		strs[i] = op.String()
	}
	return "[" + strings.Join(strs, " ") + "]"
}

// Compose merges two sequential compounds from the same replica into one
// equivalent compound. Adjacent edits coalesce where possible: consecutive
// inserts merge, a delete contained in a preceding insert is folded into it,
// and a delete that exactly cancels a prior insert collapses to nothing.
func Compose(a, b Ops) Ops {
	merged := make(Ops, 0, len(a)+len(b))
	for _, op := range a {
		if !isNoop(op) {
			merged = append(merged, op)
		}
	}
	for _, op := range b {
		if isNoop(op) {
			continue
		}
		if n := len(merged); n > 0 {
			if folded, ok := fold(merged[n-1], op); ok {
				if isNoop(folded) {
					merged = merged[:n-1]
				} else {
					merged[n-1] = folded
				}
				continue
			}
		}
		merged = append(merged, op)
	}
	return merged
}

// fold coalesces b into a, where b was generated immediately after a on the
// same replica. Returns false when the pair doesn't combine into a single
// primitive.
func fold(a, b Op) (Op, bool) {
	switch ai := a.(type) {
	case *Insert:
		switch bi := b.(type) {
		case *Insert:
			// Insertion inside (or adjacent to) the previous insertion.
			if bi.Pos >= ai.Pos && bi.Pos <= ai.End() {
				k := bi.Pos - ai.Pos
				return &Insert{ai.Pos, ai.Text[:k] + bi.Text + ai.Text[k:]}, true
			}
		case *Delete:
			// Deletion entirely within the previous insertion.
			if bi.Pos >= ai.Pos && bi.End() <= ai.End() {
				k := bi.Pos - ai.Pos
				return &Insert{ai.Pos, ai.Text[:k] + ai.Text[k+bi.Len:]}, true
			}
		}
	case *Delete:
		if bi, ok := b.(*Delete); ok {
			// Deletion at the same spot extends forward; a deletion ending
			// where the previous one started extends backward.
			if bi.Pos == ai.Pos {
				return &Delete{ai.Pos, ai.Len + bi.Len}, true
			}
			if bi.End() == ai.Pos {
				return &Delete{bi.Pos, ai.Len + bi.Len}, true
			}
		}
	}
	return nil, false
}
