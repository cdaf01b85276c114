package crdt_test

import (
	"math/rand"
	"testing"

	"pgregory.net/rapid"

	"github.com/coedit-labs/coedit/crdt"
)

// Model a Doc as a slice of runes, subject to insertions and deletions at
// random visible positions.
type stateMachine struct {
	d     *crdt.Doc
	chars []rune
}

func (m *stateMachine) Init(t *rapid.T) {
	m.d = crdt.NewDoc()
}

func (m *stateMachine) Insert(t *rapid.T) {
	ch := rapid.Rune().Draw(t, "ch").(rune)
	i := rapid.IntRange(0, len(m.chars)).Draw(t, "i").(int)

	if _, err := m.d.Insert(i, ch); err != nil {
		t.Fatal("(*stateMachine).Insert:", err)
	}

	m.chars = append(m.chars[:i], append([]rune{ch}, m.chars[i:]...)...)
}

func (m *stateMachine) Delete(t *rapid.T) {
	if len(m.chars) == 0 {
		t.Skip("empty document")
	}
	i := rapid.IntRange(0, len(m.chars)-1).Draw(t, "i").(int)

	if _, err := m.d.Delete(i); err != nil {
		t.Fatal("(*stateMachine).Delete:", err)
	}

	copy(m.chars[i:], m.chars[i+1:])
	m.chars = m.chars[:len(m.chars)-1]
}

func (m *stateMachine) Check(t *rapid.T) {
	got := m.d.Content()
	want := string(m.chars)
	if got != want {
		t.Fatalf("content mismatch: want %q but got %q", want, got)
	}
}

func TestProperty(t *testing.T) {
	rapid.Check(t, rapid.Run(&stateMachine{}))
}

// Any permutation of the same operation set converges to the same content,
// including with duplicated deliveries mixed in.
func TestPermutationConvergence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numSites := rapid.IntRange(2, 4).Draw(t, "numSites").(int)
		docs := make([]*crdt.Doc, numSites)
		docs[0] = crdt.NewDoc()
		for i := 1; i < numSites; i++ {
			docs[i] = docs[0].Fork()
		}

		// Each site generates a few edits in isolation.
		var ops []crdt.Op
		for i, d := range docs {
			numEdits := rapid.IntRange(1, 5).Draw(t, "numEdits").(int)
			for j := 0; j < numEdits; j++ {
				if d.Len() > 0 && rapid.Bool().Draw(t, "isDelete").(bool) {
					op, err := d.Delete(rapid.IntRange(0, d.Len()-1).Draw(t, "delAt").(int))
					if err != nil {
						t.Fatal("delete:", err)
					}
					ops = append(ops, op)
					continue
				}
				at := rapid.IntRange(0, d.Len()).Draw(t, "insAt").(int)
				op, err := d.Insert(at, rune('a'+i))
				if err != nil {
					t.Fatal("insert:", err)
				}
				ops = append(ops, op)
			}
		}

		// Deliver every op to every site in an independent shuffled order,
		// redelivering some.
		seed := rapid.Int64().Draw(t, "seed").(int64)
		rng := rand.New(rand.NewSource(seed))
		for _, d := range docs {
			order := rng.Perm(len(ops))
			for _, k := range order {
				d.ApplyRemote(ops[k])
				if k%3 == 0 {
					d.ApplyRemote(ops[k])
				}
			}
		}

		want := docs[0].Content()
		for i, d := range docs[1:] {
			if got := d.Content(); got != want {
				t.Fatalf("site %d diverged: %q != %q", i+1, got, want)
			}
		}
	})
}
