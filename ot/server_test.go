package ot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-labs/coedit/ot"
)

func TestServerSerializesConcurrentUpdates(t *testing.T) {
	srv := ot.NewServer("ac")

	// Two replicas edit version 0 concurrently: A inserts "b", B deletes "c".
	chA, err := srv.Apply(ot.Update{
		Ops:         ot.Ops{&ot.Insert{Pos: 1, Text: "b"}},
		Site:        "siteA",
		BaseVersion: 0,
		OpID:        "op-a",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, chA.Version)
	assert.Equal(t, "abc", srv.Content())

	chB, err := srv.Apply(ot.Update{
		Ops:         ot.Ops{&ot.Delete{Pos: 1, Len: 1}},
		Site:        "siteB",
		BaseVersion: 0,
		OpID:        "op-b",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, chB.Version)
	assert.Equal(t, "ab", srv.Content())
	// B's delete was transformed past A's insert.
	assert.Equal(t, ot.Ops{&ot.Delete{Pos: 2, Len: 1}}, chB.Ops)
}

func TestServerDuplicateUpdate(t *testing.T) {
	srv := ot.NewServer("")
	u := ot.Update{
		Ops:         ot.Ops{&ot.Insert{Pos: 0, Text: "x"}},
		Site:        "siteA",
		BaseVersion: 0,
		OpID:        "op-1",
	}
	first, err := srv.Apply(u)
	require.NoError(t, err)

	// Redelivery: not reapplied, same version returned for re-acking.
	second, err := srv.Apply(u)
	require.NoError(t, err)
	assert.Equal(t, "x", srv.Content())
	assert.Equal(t, first.Version, second.Version)
	assert.Nil(t, second.Ops)
}

func TestServerVersionMismatch(t *testing.T) {
	srv := ot.NewServer("")
	_, err := srv.Apply(ot.Update{
		Ops:         ot.Ops{&ot.Insert{Pos: 0, Text: "x"}},
		Site:        "siteA",
		BaseVersion: 3,
		OpID:        "op-1",
	})
	assert.ErrorIs(t, err, ot.ErrVersionMismatch)
}

func TestServerRejectsInterleavedSite(t *testing.T) {
	srv := ot.NewServer("")
	_, err := srv.Apply(ot.Update{
		Ops:  ot.Ops{&ot.Insert{Pos: 0, Text: "a"}},
		Site: "siteA", BaseVersion: 0, OpID: "op-1",
	})
	require.NoError(t, err)

	// A second update from the same site still based on version 0 violates
	// the one-in-flight invariant.
	_, err = srv.Apply(ot.Update{
		Ops:  ot.Ops{&ot.Insert{Pos: 1, Text: "b"}},
		Site: "siteA", BaseVersion: 0, OpID: "op-2",
	})
	assert.ErrorIs(t, err, ot.ErrVersionMismatch)
}

func TestServerChangesSince(t *testing.T) {
	srv := ot.NewServer("")
	for i, text := range []string{"a", "b", "c"} {
		_, err := srv.Apply(ot.Update{
			Ops:  ot.Ops{&ot.Insert{Pos: i, Text: text}},
			Site: "siteA", BaseVersion: i, OpID: text,
		})
		require.NoError(t, err)
	}
	changes, err := srv.ChangesSince(1)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 2, changes[0].Version)
	assert.Equal(t, 3, changes[1].Version)

	srv.Truncate(2)
	_, err = srv.ChangesSince(1)
	assert.ErrorIs(t, err, ot.ErrVersionMismatch)
	changes, err = srv.ChangesSince(2)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestServerRejectsInvalidOps(t *testing.T) {
	srv := ot.NewServer("abc")
	_, err := srv.Apply(ot.Update{
		Ops:  ot.Ops{&ot.Delete{Pos: 2, Len: 5}},
		Site: "siteA", BaseVersion: 0, OpID: "op-1",
	})
	assert.ErrorIs(t, err, ot.ErrInvalidOp)
	// The bad update corrupts nothing.
	assert.Equal(t, "abc", srv.Content())
	assert.Equal(t, 0, srv.Version())
}

// Full diamond through client and server: the distilled convergence scenario
// where "ac" becomes "ab" on both replicas.
func TestClientServerConvergence(t *testing.T) {
	srv := ot.NewServer("ac")
	clientA := ot.NewClient("siteA", "ac", 0)
	clientB := ot.NewClient("siteB", "ac", 0)

	updateA, err := clientA.Edit(ot.Ops{&ot.Insert{Pos: 1, Text: "b"}})
	require.NoError(t, err)
	updateB, err := clientB.Edit(ot.Ops{&ot.Delete{Pos: 1, Len: 1}})
	require.NoError(t, err)
	assert.Equal(t, "abc", clientA.Content())
	assert.Equal(t, "a", clientB.Content())

	// Server happens to order A first.
	chA, err := srv.Apply(*updateA)
	require.NoError(t, err)
	chB, err := srv.Apply(*updateB)
	require.NoError(t, err)

	// A: ack own change, then apply B's.
	_, err = clientA.Ack(updateA.OpID, chA.Version)
	require.NoError(t, err)
	require.NoError(t, clientA.ApplyChange(chB))

	// B: apply A's change while awaiting ack, then get acked.
	require.NoError(t, clientB.ApplyChange(chA))
	_, err = clientB.Ack(updateB.OpID, chB.Version)
	require.NoError(t, err)

	assert.Equal(t, "ab", srv.Content())
	assert.Equal(t, "ab", clientA.Content())
	assert.Equal(t, "ab", clientB.Content())
}
