package crdt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Digits of a position path. Base 2¹⁵ leaves plenty of room to interpolate
// between neighbors before paths grow a level.
const (
	minDigit = 0
	maxDigit = 1<<15 - 1
)

// Segment is one level of a position path: a digit plus the site that chose
// it. Ordering per level is (digit, site), so two replicas that concurrently
// pick the same digit still produce distinct, separable segments: a path
// extending the smaller-site segment sorts strictly between the two.
type Segment struct {
	Digit uint16    `json:"digit"`
	Site  uuid.UUID `json:"site"`
}

func (s Segment) compare(other Segment) int {
	if s.Digit != other.Digit {
		if s.Digit < other.Digit {
			return -1
		}
		return +1
	}
	return bytes.Compare(s.Site[:], other.Site[:])
}

// ID is the globally unique, totally ordered identifier of a character
// record.
//
// Path is a dense order key: between any two distinct paths another path can
// be interpolated, so an insertion between two neighbors never requires
// renumbering. Site and Clock make the full tuple unique. The ordering
// (Path, Site, Clock) — not the array index — determines render order on
// every replica.
type ID struct {
	Path  []Segment `json:"path"`
	Site  uuid.UUID `json:"site"`
	Clock uint32    `json:"clock"`
}

// Compare returns the relative order between ids.
func (id ID) Compare(other ID) int {
	n := len(id.Path)
	if len(other.Path) < n {
		n = len(other.Path)
	}
	for i := 0; i < n; i++ {
		if cmp := id.Path[i].compare(other.Path[i]); cmp != 0 {
			return cmp
		}
	}
	if len(id.Path) != len(other.Path) {
		if len(id.Path) < len(other.Path) {
			return -1
		}
		return +1
	}
	if cmp := bytes.Compare(id.Site[:], other.Site[:]); cmp != 0 {
		return cmp
	}
	if id.Clock != other.Clock {
		if id.Clock < other.Clock {
			return -1
		}
		return +1
	}
	return 0
}

// key encodes the id for use in the applied-operation set.
func (id ID) key() string {
	var b strings.Builder
	for _, s := range id.Path {
		fmt.Fprintf(&b, "%04x~%s.", s.Digit, s.Site)
	}
	fmt.Fprintf(&b, "%s@%d", id.Site, id.Clock)
	return b.String()
}

func (id ID) String() string {
	segments := make([]string, len(id.Path))
	for i, s := range id.Path {
		segments[i] = fmt.Sprintf("%d·%s", s.Digit, s.Site.String()[:4])
	}
	return fmt.Sprintf("[%s]:S%s@T%d", strings.Join(segments, ","), id.Site.String()[:8], id.Clock)
}

// pathBetween returns a path strictly between left and right, where nil
// stands for -∞ on the left and +∞ on the right. Segments are walked in
// lockstep; at the first level with digit room, the midpoint is taken and
// stamped with the inserting site, so the result is deterministic for a
// given pair and site.
//
// An exhausted left is padded with the zero segment: extending a prefix
// equal to left always sorts after it, and the midpoint appended on return
// is at least one above the pad. Generated paths therefore never end in a
// zero segment, which keeps the padding sound for right bounds as well.
// When the bounds share a digit but not a site, the smaller-site segment is
// kept and the right bound stops constraining, since anything extending it
// already sorts before right.
//
// Requires left < right in path order.
func pathBetween(left, right []Segment, site uuid.UUID) []Segment {
	var path []Segment
	for i := 0; ; i++ {
		var l Segment
		if i < len(left) {
			l = left[i]
		}
		r := maxDigit + 1
		var rSite uuid.UUID
		if right != nil && i < len(right) {
			r = int(right[i].Digit)
			rSite = right[i].Site
		}
		switch {
		case r-int(l.Digit) > 1:
			mid := l.Digit + uint16((r-int(l.Digit))/2)
			return append(path, Segment{Digit: mid, Site: site})
		case r-int(l.Digit) == 1:
			path = append(path, l)
			right = nil
		default:
			path = append(path, l)
			if bytes.Compare(l.Site[:], rSite[:]) < 0 {
				right = nil
			}
		}
	}
}
