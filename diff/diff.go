/*
Package diff computes the edit script between two strings.

This is how local edits are captured: an editor hands over the content before
and after a change, and the script comes back as operational-transformation
primitives ready for the synchronization state machine.
*/
package diff

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/coedit-labs/coedit/ot"
)

type OpType int

const (
	Keep OpType = iota
	Insert
	Delete
)

// Operation is one step of the edit script, expressed per rune.
type Operation struct {
	Op   OpType
	Char rune
	Dist int
}

// Diff returns the sequence of keeps, insertions and deletions that
// transforms s1 into s2.
//
// Standard dynamic programming over the (len(s1)+1)×(len(s2)+1) grid: cell
// (i, j) holds the best operation to transform s1[i:] into s2[j:], seeded
// from the right and bottom edges (delete everything / insert everything).
// On a tie, insertion is preferred.
func Diff(s1, s2 string) ([]Operation, error) {
	if !utf8.ValidString(s1) {
		return nil, fmt.Errorf("s1 is not a valid utf8 string")
	}
	if !utf8.ValidString(s2) {
		return nil, fmt.Errorf("s2 is not a valid utf8 string")
	}
	chars1 := []rune(s1)
	chars2 := []rune(s2)
	m, n := len(chars1), len(chars2)
	ops := make([]Operation, (m+1)*(n+1))
	coord := func(i, j int) int {
		return i*(n+1) + j
	}
	for i, ch := range chars1 {
		ops[coord(i, n)] = Operation{Op: Delete, Char: ch, Dist: m - i}
	}
	for j, ch := range chars2 {
		ops[coord(m, j)] = Operation{Op: Insert, Char: ch, Dist: n - j}
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if chars1[i] == chars2[j] {
				ops[coord(i, j)] = Operation{Op: Keep, Char: chars1[i], Dist: ops[coord(i+1, j+1)].Dist}
				continue
			}
			del := ops[coord(i+1, j)]
			ins := ops[coord(i, j+1)]
			if ins.Dist <= del.Dist {
				ops[coord(i, j)] = Operation{Op: Insert, Char: chars2[j], Dist: 1 + ins.Dist}
			} else {
				ops[coord(i, j)] = Operation{Op: Delete, Char: chars1[i], Dist: 1 + del.Dist}
			}
		}
	}
	// Walk the grid from the origin to build the script.
	var script []Operation
	var i, j int
	for i < m || j < n {
		op := ops[coord(i, j)]
		script = append(script, op)
		switch op.Op {
		case Keep:
			i++
			j++
		case Insert:
			j++
		case Delete:
			i++
		}
	}
	return script, nil
}

// Distance returns the number of inserts/deletes to transform s1 into s2.
func Distance(s1, s2 string) (int, error) {
	script, err := Diff(s1, s2)
	if err != nil {
		return 0, err
	}
	if len(script) == 0 {
		return 0, nil
	}
	return script[0].Dist, nil
}

// Ops converts the edit script between s1 and s2 into a compound operation:
// runs of inserted runes coalesce into a single insert, runs of deleted runes
// into a single delete, with positions tracked as byte offsets in the
// evolving string. Applying the result to s1 yields s2.
func Ops(s1, s2 string) (ot.Ops, error) {
	script, err := Diff(s1, s2)
	if err != nil {
		return nil, err
	}
	var ops ot.Ops
	var pos, i int
	for i < len(script) {
		switch script[i].Op {
		case Keep:
			pos += utf8.RuneLen(script[i].Char)
			i++
		case Insert:
			var b strings.Builder
			for i < len(script) && script[i].Op == Insert {
				b.WriteRune(script[i].Char)
				i++
			}
			text := b.String()
			ops = append(ops, &ot.Insert{Pos: pos, Text: text})
			pos += len(text)
		case Delete:
			length := 0
			for i < len(script) && script[i].Op == Delete {
				length += utf8.RuneLen(script[i].Char)
				i++
			}
			ops = append(ops, &ot.Delete{Pos: pos, Len: length})
		}
	}
	return ops, nil
}
