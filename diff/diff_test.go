package diff_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"pgregory.net/rapid"

	"github.com/coedit-labs/coedit/diff"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   []diff.Operation
	}{
		{
			s1: "a",
			s2: "a",
			want: []diff.Operation{
				{Op: diff.Keep, Char: 'a'},
			},
		},
		{
			s1: "",
			s2: "a",
			want: []diff.Operation{
				{Op: diff.Insert, Char: 'a'},
			},
		},
		{
			s1: "a",
			s2: "",
			want: []diff.Operation{
				{Op: diff.Delete, Char: 'a'},
			},
		},
		{
			s1: "ac",
			s2: "abc",
			want: []diff.Operation{
				{Op: diff.Keep, Char: 'a'},
				{Op: diff.Insert, Char: 'b'},
				{Op: diff.Keep, Char: 'c'},
			},
		},
		{
			s1: "abc",
			s2: "ac",
			want: []diff.Operation{
				{Op: diff.Keep, Char: 'a'},
				{Op: diff.Delete, Char: 'b'},
				{Op: diff.Keep, Char: 'c'},
			},
		},
		{
			s1: "abc",
			s2: "axc",
			want: []diff.Operation{
				{Op: diff.Keep, Char: 'a'},
				{Op: diff.Insert, Char: 'x'},
				{Op: diff.Delete, Char: 'b'},
				{Op: diff.Keep, Char: 'c'},
			},
		},
		{
			s1: "abcd",
			s2: "xabdy",
			want: []diff.Operation{
				{Op: diff.Insert, Char: 'x'},
				{Op: diff.Keep, Char: 'a'},
				{Op: diff.Keep, Char: 'b'},
				{Op: diff.Delete, Char: 'c'},
				{Op: diff.Keep, Char: 'd'},
				{Op: diff.Insert, Char: 'y'},
			},
		},
	}
	ignoreDist := cmpopts.IgnoreFields(diff.Operation{}, "Dist")
	for _, test := range tests {
		got, err := diff.Diff(test.s1, test.s2)
		if err != nil {
			t.Fatalf("diff.Diff(%q, %q): %v", test.s1, test.s2, err)
		}
		if msg := cmp.Diff(test.want, got, ignoreDist); msg != "" {
			t.Errorf("diff.Diff(%q, %q): (-want, +got)\n%s", test.s1, test.s2, msg)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"", "a", 1},
		{"a", "", 1},
		{"a", "a", 0},
		{"ac", "abc", 1},
		{"abc", "ac", 1},
		{"abc", "axc", 2},
		{"abcd", "xabdy", 3},
	}
	for _, test := range tests {
		got, err := diff.Distance(test.s1, test.s2)
		if err != nil {
			t.Fatalf("diff.Distance(%q, %q): %v", test.s1, test.s2, err)
		}
		if got != test.want {
			t.Errorf("diff.Distance(%q, %q): want %d, got %d", test.s1, test.s2, test.want, got)
		}
	}
}

func TestOps(t *testing.T) {
	tests := []struct {
		s1, s2 string
	}{
		{"", "hello"},
		{"hello", ""},
		{"ac", "abc"},
		{"abc", "axc"},
		{"abcd", "xabdy"},
		{"the quick fox", "the slow fox"},
		{"héllo", "hèllo"},
	}
	for _, test := range tests {
		ops, err := diff.Ops(test.s1, test.s2)
		if err != nil {
			t.Fatalf("diff.Ops(%q, %q): %v", test.s1, test.s2, err)
		}
		got, err := ops.Apply(test.s1)
		if err != nil {
			t.Fatalf("applying %v to %q: %v", ops, test.s1, err)
		}
		if got != test.s2 {
			t.Errorf("diff.Ops(%q, %q): applying %v: want %q, got %q", test.s1, test.s2, ops, test.s2, got)
		}
	}
}

// Applying the script of any string pair must reproduce the target.
func TestOpsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s1 := rapid.String().Draw(t, "s1").(string)
		s2 := rapid.String().Draw(t, "s2").(string)
		ops, err := diff.Ops(s1, s2)
		if err != nil {
			t.Fatalf("diff.Ops(%q, %q): %v", s1, s2, err)
		}
		got, err := ops.Apply(s1)
		if err != nil {
			t.Fatalf("applying %v to %q: %v", ops, s1, err)
		}
		if got != s2 {
			t.Fatalf("diff.Ops(%q, %q): applied script gives %q", s1, s2, got)
		}
	})
}
