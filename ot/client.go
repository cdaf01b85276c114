package ot

import (
	"fmt"

	"github.com/google/uuid"
)

// +---------------+
// | Client states |
// +---------------+

// ClientState is the synchronization state of a replica relative to the
// server.
type ClientState int

const (
	// StateSynchronized: no local edit is in flight.
	StateSynchronized ClientState = iota
	// StateAwaitingAck: one compound was sent and not yet acknowledged.
	StateAwaitingAck
	// StateBuffering: one compound is in flight and later local edits are
	// being composed into a single buffered compound.
	StateBuffering
)

func (s ClientState) String() string {
	switch s {
	case StateSynchronized:
		return "synchronized"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateBuffering:
		return "buffering"
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// clientEvent is an input to the state machine.
type clientEvent int

const (
	eventLocalEdit clientEvent = iota
	eventServerAck
	eventServerOp
)

// clientEffect is what the caller must do after a transition.
type clientEffect int

const (
	effectNone clientEffect = iota
	// effectSend: hand the pending compound to the transport.
	effectSend
	// effectBuffer: compose the edit into the buffered compound.
	effectBuffer
	// effectSendBuffer: promote the buffer to pending and send it.
	effectSendBuffer
)

// transition is the pure state transition function. It knows nothing about
// documents or operations, only which moves are legal; Client executes the
// returned effect on its own fields.
func transition(state ClientState, event clientEvent) (ClientState, clientEffect, error) {
	switch state {
	case StateSynchronized:
		switch event {
		case eventLocalEdit:
			return StateAwaitingAck, effectSend, nil
		case eventServerOp:
			return StateSynchronized, effectNone, nil
		case eventServerAck:
			return state, effectNone, fmt.Errorf("ack while synchronized: %w", ErrResyncRequired)
		}
	case StateAwaitingAck:
		switch event {
		case eventLocalEdit:
			return StateBuffering, effectBuffer, nil
		case eventServerOp:
			return StateAwaitingAck, effectNone, nil
		case eventServerAck:
			return StateSynchronized, effectNone, nil
		}
	case StateBuffering:
		switch event {
		case eventLocalEdit:
			return StateBuffering, effectBuffer, nil
		case eventServerOp:
			return StateBuffering, effectNone, nil
		case eventServerAck:
			return StateAwaitingAck, effectSendBuffer, nil
		}
	}
	return state, effectNone, fmt.Errorf("no transition from %v on event %d: %w", state, event, ErrResyncRequired)
}

// +--------+
// | Client |
// +--------+

// Update is a compound operation annotated for the server: the replica that
// generated it, the server version it was generated against, and a unique id
// for acknowledgment and duplicate detection.
type Update struct {
	Ops         Ops
	Site        string
	BaseVersion int
	OpID        string
}

// Change is an update as canonicalized by the server: the ops after
// transformation against everything that was serialized before them, and the
// version they produced.
type Change struct {
	Ops     Ops
	Site    string
	Version int
	OpID    string
}

// Client is the synchronization state machine of one replica. It owns the
// local copy of the document, at most one in-flight compound, and at most one
// buffered compound composed from later local edits.
//
// A Client is not safe for concurrent use; the transport must deliver events
// to it one at a time.
type Client struct {
	site    string
	content string
	version int

	state     ClientState
	pending   Ops
	pendingID string
	buffered  Ops
}

// NewClient creates a replica from a server snapshot.
func NewClient(site, content string, version int) *Client {
	return &Client{
		site:    site,
		content: content,
		version: version,
		state:   StateSynchronized,
	}
}

// Site returns the replica identifier.
func (c *Client) Site() string { return c.site }

// Content returns the optimistic local document content.
func (c *Client) Content() string { return c.content }

// Version returns the last server version observed by this replica.
func (c *Client) Version() int { return c.version }

// State returns the current synchronization state.
func (c *Client) State() ClientState { return c.state }

// Edit applies a local edit optimistically and returns the update to send to
// the server, or nil when the edit was composed into the buffer. Empty
// compounds are dropped; invalid operations are rejected without touching any
// state. Neither is ever transmitted.
func (c *Client) Edit(ops Ops) (*Update, error) {
	if ops.IsEmpty() {
		return nil, nil
	}
	content, err := ops.Apply(c.content)
	if err != nil {
		return nil, err
	}
	state, effect, err := transition(c.state, eventLocalEdit)
	if err != nil {
		return nil, err
	}
	c.content = content
	c.state = state
	switch effect {
	case effectSend:
		c.pending = ops
		c.pendingID = uuid.NewString()
		return &Update{Ops: c.pending, Site: c.site, BaseVersion: c.version, OpID: c.pendingID}, nil
	case effectBuffer:
		c.buffered = Compose(c.buffered, ops)
		return nil, nil
	}
	return nil, nil
}

// ApplyChange ingests a remote change broadcast by the server. The change is
// transformed against the in-flight and buffered compounds (in that order),
// which are symmetrically rebased over it, and the transformed remote ops are
// applied to the local content.
func (c *Client) ApplyChange(ch Change) error {
	if ch.Site == c.site {
		// Our own change echoed back; the ack path handles it.
		return nil
	}
	if ch.Version != c.version+1 {
		return fmt.Errorf("change version %d after local version %d: %w", ch.Version, c.version, ErrResyncRequired)
	}
	state, _, err := transition(c.state, eventServerOp)
	if err != nil {
		return err
	}
	remote := ch.Ops
	c.pending, remote = TransformOps(c.pending, c.site, remote, ch.Site)
	c.buffered, remote = TransformOps(c.buffered, c.site, remote, ch.Site)
	content, err := remote.Apply(c.content)
	if err != nil {
		return fmt.Errorf("applying remote change %s: %w", ch.OpID, err)
	}
	c.content = content
	c.version = ch.Version
	c.state = state
	return nil
}

// Ack acknowledges the in-flight compound. When edits were buffered in the
// meantime, the buffer becomes the new in-flight compound and is returned for
// sending; otherwise the replica is synchronized again.
func (c *Client) Ack(opID string, newVersion int) (*Update, error) {
	if opID != c.pendingID {
		return nil, fmt.Errorf("ack for %q but %q is in flight: %w", opID, c.pendingID, ErrResyncRequired)
	}
	state, effect, err := transition(c.state, eventServerAck)
	if err != nil {
		return nil, err
	}
	c.version = newVersion
	c.state = state
	c.pending = nil
	c.pendingID = ""
	if effect == effectSendBuffer {
		c.pending = c.buffered
		c.buffered = nil
		c.pendingID = uuid.NewString()
		return &Update{Ops: c.pending, Site: c.site, BaseVersion: c.version, OpID: c.pendingID}, nil
	}
	return nil, nil
}

// Buffered returns the not-yet-sent compound, which the transport must
// preserve across a connection failure and replay after resync.
func (c *Client) Buffered() Ops { return c.buffered }

// Resync discards all optimistic state and restarts from a fresh server
// snapshot, after a version mismatch or reconnection. Unsent buffered edits
// are returned so the caller can replay them through Edit.
func (c *Client) Resync(content string, version int) Ops {
	buffered := c.buffered
	c.content = content
	c.version = version
	c.state = StateSynchronized
	c.pending = nil
	c.pendingID = ""
	c.buffered = nil
	return buffered
}
