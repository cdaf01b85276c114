/*
Package crdt implements a coordination-free replicated text document.

Each character carries a globally unique, totally ordered position identifier
(a dense path of digit-and-site segments, with the creating site and its
logical clock as final tie breakers). Insertions interpolate a new identifier between their neighbors;
deletions only flip a visibility bit, leaving a tombstone behind. Because the
identifier order is total and deletions never remove records, applying the
same set of remote operations in any order, any number of times, converges to
the same visible content on every replica — no transform step and no central
serialization are required.
*/
package crdt

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	uuidv4 = randomUUIDv4 // Stubbed for mocking in mocks_test.go
)

// Errors returned by Doc operations.
var (
	ErrIndexOutOfRange = errors.New("index outside the visible range")
)

// +-----------------+
// | Data structures |
// +-----------------+

// Record is one atomic unit of the document. Records are never physically
// removed once created; deletion flips Visible to false, which keeps the
// merge commutative.
type Record struct {
	ID      ID   `json:"id"`
	Value   rune `json:"value"`
	Visible bool `json:"visible"`
}

// Doc is one replica of the document. Records are kept sorted by ID, so the
// slice order is the render order; the visible subsequence is the content.
//
// A Doc is a single-threaded state machine: the transport must deliver
// operations to it one at a time.
type Doc struct {
	records []Record
	// applied holds the ids of every operation already applied, making
	// ApplyRemote idempotent under duplicate delivery.
	applied map[string]struct{}
	// orphanTombstones holds deletions that arrived before their insertion.
	// The transport guarantees no ordering, so a record may be born dead.
	orphanTombstones map[string]struct{}

	siteID uuid.UUID
	clock  uint32
}

// NewDoc creates an empty replica with a fresh site id.
func NewDoc() *Doc {
	return &Doc{
		applied:          make(map[string]struct{}),
		orphanTombstones: make(map[string]struct{}),
		siteID:           uuidv4(),
	}
}

// Fork copies the document as a new independent replica with its own site id.
func (d *Doc) Fork() *Doc {
	records := make([]Record, len(d.records))
	copy(records, d.records)
	applied := make(map[string]struct{}, len(d.applied))
	for k := range d.applied {
		applied[k] = struct{}{}
	}
	orphans := make(map[string]struct{}, len(d.orphanTombstones))
	for k := range d.orphanTombstones {
		orphans[k] = struct{}{}
	}
	return &Doc{
		records:          records,
		applied:          applied,
		orphanTombstones: orphans,
		siteID:           uuidv4(),
		clock:            d.clock,
	}
}

// SiteID returns the replica identifier.
func (d *Doc) SiteID() uuid.UUID { return d.siteID }

// +---------+
// | Lookups |
// +---------+

// Returns the index where id is (or should be) in the record slice.
//
// Time complexity: O(log(records))
func (d *Doc) search(id ID) int {
	return sort.Search(len(d.records), func(i int) bool {
		return d.records[i].ID.Compare(id) >= 0
	})
}

// Returns the record index of the i-th visible record, or -1.
//
// Time complexity: O(records)
func (d *Doc) visibleIndex(i int) int {
	if i < 0 {
		return -1
	}
	seen := 0
	for j, rec := range d.records {
		if !rec.Visible {
			continue
		}
		if seen == i {
			return j
		}
		seen++
	}
	return -1
}

// Len returns the number of visible records.
func (d *Doc) Len() int {
	n := 0
	for _, rec := range d.records {
		if rec.Visible {
			n++
		}
	}
	return n
}

// Content returns the currently visible values in identifier order.
func (d *Doc) Content() string {
	var b strings.Builder
	for _, rec := range d.records {
		if rec.Visible {
			b.WriteRune(rec.Value)
		}
	}
	return b.String()
}

// +------------------+
// | Local operations |
// +------------------+

// Insert places value at the given visible index and returns the operation to
// broadcast. The new record's identifier is interpolated strictly between the
// identifiers of the visible neighbors at index-1 and index.
func (d *Doc) Insert(index int, value rune) (Op, error) {
	if index < 0 || index > d.Len() {
		return nil, ErrIndexOutOfRange
	}
	var left, right []Segment
	if index > 0 {
		left = d.records[d.visibleIndex(index-1)].ID.Path
	}
	if j := d.visibleIndex(index); j >= 0 {
		right = d.records[j].ID.Path
	}
	d.clock++
	rec := Record{
		ID: ID{
			Path:  pathBetween(left, right, d.siteID),
			Site:  d.siteID,
			Clock: d.clock,
		},
		Value:   value,
		Visible: true,
	}
	d.insertRecord(rec)
	op := &InsertOp{Record: rec}
	d.applied[op.OpID()] = struct{}{}
	return op, nil
}

// Delete tombstones the record at the given visible index and returns the
// operation to broadcast, or ErrIndexOutOfRange when no visible record exists
// there.
func (d *Doc) Delete(index int) (Op, error) {
	j := d.visibleIndex(index)
	if j < 0 {
		return nil, ErrIndexOutOfRange
	}
	d.records[j].Visible = false
	op := &DeleteOp{Target: d.records[j].ID}
	d.applied[op.OpID()] = struct{}{}
	return op, nil
}

// +-------------------+
// | Remote operations |
// +-------------------+

// ApplyRemote merges one remote operation into the replica. It is idempotent,
// redelivered operations are detected by id and dropped, and commutative:
// any arrival order of the same operation set yields the same content.
func (d *Doc) ApplyRemote(op Op) {
	if _, ok := d.applied[op.OpID()]; ok {
		return
	}
	op.apply(d)
	if d.clock < op.clock() {
		d.clock = op.clock()
	}
	d.applied[op.OpID()] = struct{}{}
}

// Inserts rec at its sorted position. A record whose deletion already arrived
// is born as a tombstone.
//
// Time complexity: O(records)
func (d *Doc) insertRecord(rec Record) {
	if _, ok := d.orphanTombstones[rec.ID.key()]; ok {
		delete(d.orphanTombstones, rec.ID.key())
		rec.Visible = false
	}
	i := d.search(rec.ID)
	d.records = append(d.records, Record{})
	copy(d.records[i+1:], d.records[i:])
	d.records[i] = rec
}

// Tombstones the record with the given id. A deletion that outran its
// insertion is parked until the record shows up.
func (d *Doc) tombstone(id ID) {
	i := d.search(id)
	if i >= len(d.records) || d.records[i].ID.Compare(id) != 0 {
		d.orphanTombstones[id.key()] = struct{}{}
		return
	}
	d.records[i].Visible = false
}

// +-----------+
// | Utilities |
// +-----------+

func randomUUIDv4() uuid.UUID {
	return uuid.New()
}
