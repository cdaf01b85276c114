package ot

import (
	"fmt"
)

// Server is the single serializing collaborator of an OT session. It owns the
// canonical content and version, and establishes the one global total order
// of operations that every replica observes.
//
// Server is a pure engine: it performs no I/O and is not safe for concurrent
// use. The transport (see package hub) feeds it one update at a time.
type Server struct {
	content string
	changes []Change
	// base is the version of the first retained change; earlier history has
	// been truncated and can only be recovered from a snapshot.
	base int
	// applied maps op ids to the version they produced, for duplicate
	// delivery detection.
	applied map[string]int
}

// NewServer creates a session with initial content at version 0.
func NewServer(content string) *Server {
	return NewServerAt(content, 0)
}

// NewServerAt resumes a session from a snapshot taken at the given version.
// History before the snapshot is not retained; replicas older than it must
// resync from the snapshot.
func NewServerAt(content string, version int) *Server {
	return &Server{
		content: content,
		base:    version,
		applied: make(map[string]int),
	}
}

// Content returns the canonical document content.
func (s *Server) Content() string { return s.content }

// Version returns the canonical document version: the number of changes ever
// applied.
func (s *Server) Version() int { return s.base + len(s.changes) }

// Apply serializes an update into the session. The update's ops are
// transformed against every change serialized after its base version, applied
// to the content, and recorded as the next change.
//
// A redelivered update (same op id) is not reapplied: the previously recorded
// change is returned with no error, so the caller can re-ack the originator.
// An update whose base version is newer than the session, older than the
// retained history, or interleaved with another in-flight update from the
// same site is rejected with ErrVersionMismatch; the replica must resync.
func (s *Server) Apply(u Update) (Change, error) {
	if version, ok := s.applied[u.OpID]; ok {
		return Change{Site: u.Site, Version: version, OpID: u.OpID}, nil
	}
	if u.BaseVersion > s.Version() || u.BaseVersion < s.base {
		return Change{}, fmt.Errorf("base version %d with history [%d,%d]: %w",
			u.BaseVersion, s.base, s.Version(), ErrVersionMismatch)
	}
	ops := u.Ops
	for _, ch := range s.changes[u.BaseVersion-s.base:] {
		if ch.Site == u.Site {
			// The site has another change past the update's base: it broke
			// the one-in-flight invariant and must resynchronize.
			return Change{}, fmt.Errorf("site %s has change at version %d past base %d: %w",
				u.Site, ch.Version, u.BaseVersion, ErrVersionMismatch)
		}
		ops, _ = TransformOps(ops, u.Site, ch.Ops, ch.Site)
	}
	content, err := ops.Apply(s.content)
	if err != nil {
		return Change{}, err
	}
	change := Change{
		Ops:     ops,
		Site:    u.Site,
		Version: s.Version() + 1,
		OpID:    u.OpID,
	}
	s.content = content
	s.changes = append(s.changes, change)
	s.applied[u.OpID] = change.Version
	return change, nil
}

// ChangesSince returns the changes after the given version, for a replica
// catching up without a full snapshot. ErrVersionMismatch means the history
// was truncated and the replica needs the snapshot instead.
func (s *Server) ChangesSince(version int) ([]Change, error) {
	if version > s.Version() || version < s.base {
		return nil, fmt.Errorf("version %d with history [%d,%d]: %w",
			version, s.base, s.Version(), ErrVersionMismatch)
	}
	tail := s.changes[version-s.base:]
	out := make([]Change, len(tail))
	copy(out, tail)
	return out, nil
}

// Truncate drops retained changes up to the given version. Replicas older
// than it can then only recover through a snapshot.
func (s *Server) Truncate(version int) {
	if version <= s.base {
		return
	}
	if version > s.Version() {
		version = s.Version()
	}
	s.changes = append([]Change(nil), s.changes[version-s.base:]...)
	s.base = version
}
