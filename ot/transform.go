package ot

// Transform derives the bottom two sides of the OT diamond: given a and b
// generated concurrently against the same document state, it returns (a', b')
// such that apply(a) then apply(b') equals apply(b) then apply(a').
//
// aSite and bSite identify the replicas that generated each operation. They
// break the tie between two inserts at the same position: the
// lexicographically smaller site keeps the left slot. Every replica applies
// the same rule, so all of them agree on the winner.
func Transform(a Op, aSite string, b Op, bSite string) (ap, bp Op) {
	switch ai := a.(type) {
	case *Insert:
		switch bi := b.(type) {
		case *Insert:
			if ai.Pos < bi.Pos || (ai.Pos == bi.Pos && aSite < bSite) {
				return a, &Insert{bi.Pos + len(ai.Text), bi.Text}
			}
			return &Insert{ai.Pos + len(bi.Text), ai.Text}, b
		case *Delete:
			return transformInsertDelete(ai, bi)
		}
	case *Delete:
		switch bi := b.(type) {
		case *Insert:
			ins, del := transformInsertDelete(bi, ai)
			return del, ins
		case *Delete:
			return transformDeleteDelete(ai, bi)
		}
	}
	return a, b
}

// transformInsertDelete handles the diamond where a is an insert and b is a
// concurrent delete.
func transformInsertDelete(a *Insert, b *Delete) (ap, bp Op) {
	switch {
	case a.Pos <= b.Pos:
		// Insert before the deleted range: the delete shifts right.
		return a, &Delete{b.Pos + len(a.Text), b.Len}
	case a.Pos >= b.End():
		// Insert after the deleted range: the insert shifts left.
		return &Insert{a.Pos - b.Len, a.Text}, b
	default:
		// Insert inside the deleted range: the delete grows around the
		// insertion, which is swallowed. Both replicas agree, which is all
		// convergence asks for.
		return &Insert{b.Pos, ""}, &Delete{b.Pos, b.Len + len(a.Text)}
	}
}

// transformDeleteDelete handles two concurrent deletes. Overlapping ranges
// merge into the union with the overlap counted once; a delete entirely
// covered by the other collapses to a no-op.
func transformDeleteDelete(a, b *Delete) (ap, bp Op) {
	if a.End() <= b.Pos {
		return a, &Delete{b.Pos - a.Len, b.Len}
	}
	if b.End() <= a.Pos {
		return &Delete{a.Pos - b.Len, a.Len}, b
	}
	pos := min(a.Pos, b.Pos)
	overlap := min(a.End(), b.End()) - max(a.Pos, b.Pos)
	return &Delete{pos, a.Len - overlap}, &Delete{pos, b.Len - overlap}
}

// TransformOps transforms two concurrent compounds against each other,
// threading each primitive of b through every primitive of a, as in the
// single-op diamond repeated across the grid.
func TransformOps(a Ops, aSite string, b Ops, bSite string) (ap, bp Ops) {
	aNew := make(Ops, len(a))
	copy(aNew, a)
	bNew := make(Ops, 0, len(b))
	for _, bOp := range b {
		for j, aOp := range aNew {
			aNew[j], bOp = Transform(aOp, aSite, bOp, bSite)
		}
		bNew = append(bNew, bOp)
	}
	return compact(aNew), compact(bNew)
}

// compact strips no-op residue left behind by transforms.
func compact(ops Ops) Ops {
	out := ops[:0]
	for _, op := range ops {
		if !isNoop(op) {
			out = append(out, op)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
