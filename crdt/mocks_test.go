package crdt

import (
	"testing"

	"github.com/google/uuid"
)

// MockSiteIDs makes NewDoc and Fork hand out the given site ids in order,
// restoring the real generator when the test finishes.
func MockSiteIDs(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	orig := uuidv4
	t.Cleanup(func() { uuidv4 = orig })
	var i int
	uuidv4 = func() uuid.UUID {
		id := ids[i]
		i++
		return id
	}
}
