/*
Package hub carries the protocol over websockets.

A Session is the transport shell around one document's ot.Server: it accepts
connections, feeds their frames one at a time into the engine (establishing
the single global order the transform engine requires), acks originators,
broadcasts canonical changes to everyone else, answers resync requests, and
writes every applied change through the store.

The engine itself stays synchronous and single-threaded; all concurrency
lives here, in one goroutine per session plus a read and a write pump per
connection.
*/
package hub

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coedit-labs/coedit/ot"
	"github.com/coedit-labs/coedit/protocol"
	"github.com/coedit-labs/coedit/store"
)

const sendBuffer = 256

// Session serializes one document's operation stream.
type Session struct {
	docID string
	srv   *ot.Server
	st    *store.Store // may be nil: in-memory session

	register   chan *conn
	unregister chan *conn
	inbound    chan inbound
	done       chan struct{}
	closeOnce  sync.Once
}

type inbound struct {
	c   *conn
	msg protocol.Message
}

// NewSession creates a session for a document, resuming from the store's
// snapshot when one exists. A nil store keeps the session in memory only.
func NewSession(docID, content string, st *store.Store) (*Session, error) {
	version := 0
	if st != nil {
		snap, err := st.LoadSnapshot(docID)
		switch {
		case err == nil:
			content, version = snap.Content, snap.Version
		case errors.Is(err, store.ErrNoSnapshot):
			// First time this document is served.
		default:
			return nil, err
		}
	}
	return &Session{
		docID:      docID,
		srv:        ot.NewServerAt(content, version),
		st:         st,
		register:   make(chan *conn),
		unregister: make(chan *conn),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}, nil
}

// Run processes the session's events until Close. It owns the engine: frames
// are handled strictly one at a time, in arrival order.
func (s *Session) Run() {
	conns := make(map[*conn]bool)
	for {
		select {
		case c := <-s.register:
			conns[c] = true
		case c := <-s.unregister:
			if conns[c] {
				delete(conns, c)
				c.dropped = true
				close(c.send)
			}
		case in := <-s.inbound:
			s.handle(in, conns)
		case <-s.done:
			for c := range conns {
				close(c.send)
			}
			return
		}
	}
}

// Close stops the session loop and disconnects every client. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) handle(in inbound, conns map[*conn]bool) {
	switch in.msg.Type {
	case protocol.TypeOperation:
		s.handleOperation(in, conns)
	case protocol.TypeResyncRequest:
		in.c.sendMessage(s.resyncResponse(in.msg.ResyncRequest.FromVersion))
	default:
		log.Printf("hub: %s: unexpected %s frame from client", s.docID, in.msg.Type)
	}
}

func (s *Session) handleOperation(in inbound, conns map[*conn]bool) {
	op := in.msg.Operation
	ops, err := protocol.DecodeOps(op.Ops)
	if err != nil {
		// Malformed operations die here; they never reach the document.
		log.Printf("hub: %s: rejecting operation %s: %v", s.docID, op.OpID, err)
		return
	}
	change, err := s.srv.Apply(ot.Update{
		Ops:         ops,
		Site:        op.SiteID,
		BaseVersion: op.BaseVersion,
		OpID:        op.OpID,
	})
	switch {
	case errors.Is(err, ot.ErrVersionMismatch):
		log.Printf("hub: %s: stale update from site %s: %v", s.docID, op.SiteID, err)
		in.c.sendMessage(s.resyncResponse(op.BaseVersion))
		return
	case err != nil:
		log.Printf("hub: %s: rejecting operation %s: %v", s.docID, op.OpID, err)
		return
	}
	if change.Ops == nil {
		// Duplicate delivery: re-ack, nothing to broadcast or persist.
		in.c.sendMessage(protocol.Message{
			Type: protocol.TypeAck,
			Ack:  &protocol.Ack{OpID: change.OpID, NewVersion: change.Version},
		})
		return
	}
	s.persist(change)
	in.c.sendMessage(protocol.Message{
		Type: protocol.TypeAck,
		Ack:  &protocol.Ack{OpID: change.OpID, NewVersion: change.Version},
	})
	frame, err := protocol.Marshal(protocol.ChangeMessage(change))
	if err != nil {
		log.Printf("hub: %s: encoding change %s: %v", s.docID, change.OpID, err)
		return
	}
	for c := range conns {
		if c == in.c {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow client: drop it rather than stall the session.
			delete(conns, c)
			c.dropped = true
			close(c.send)
		}
	}
}

func (s *Session) persist(change ot.Change) {
	if s.st == nil {
		return
	}
	data, err := protocol.Marshal(protocol.ChangeMessage(change))
	if err != nil {
		log.Printf("hub: %s: persisting change %s: %v", s.docID, change.OpID, err)
		return
	}
	if err := s.st.AppendChange(s.docID, change.Version, data); err != nil {
		log.Printf("hub: %s: appending change %s: %v", s.docID, change.OpID, err)
	}
	snap := store.Snapshot{Version: s.srv.Version(), Content: s.srv.Content()}
	if err := s.st.SaveSnapshot(s.docID, snap); err != nil {
		log.Printf("hub: %s: saving snapshot: %v", s.docID, err)
	}
}

func (s *Session) resyncResponse(fromVersion int) protocol.Message {
	resp := &protocol.ResyncResponse{
		Snapshot: s.srv.Content(),
		Version:  s.srv.Version(),
	}
	if changes, err := s.srv.ChangesSince(fromVersion); err == nil {
		for _, ch := range changes {
			resp.Operations = append(resp.Operations, *protocol.ChangeMessage(ch).Operation)
		}
	}
	return protocol.Message{Type: protocol.TypeResyncResponse, ResyncResponse: resp}
}

// +-------------+
// | Connections |
// +-------------+

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type conn struct {
	session *Session
	ws      *websocket.Conn
	send    chan []byte
	// dropped is owned by the session goroutine; it marks a connection whose
	// send channel was already closed.
	dropped bool
}

// sendMessage is only called from the session goroutine.
func (c *conn) sendMessage(m protocol.Message) {
	if c.dropped {
		return
	}
	frame, err := protocol.Marshal(m)
	if err != nil {
		log.Printf("hub: encoding %s frame: %v", m.Type, err)
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// ServeWS upgrades an HTTP request into a session connection.
func (s *Session) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: %s: upgrade: %v", s.docID, err)
		return
	}
	c := &conn{session: s, ws: ws, send: make(chan []byte, sendBuffer)}
	select {
	case s.register <- c:
	case <-s.done:
		ws.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// The sends below race with session shutdown: once Run returns nothing
// receives on these channels, so every send also selects on done.
func (c *conn) readPump() {
	defer func() {
		select {
		case c.session.unregister <- c:
		case <-c.session.done:
		}
		c.ws.Close()
	}()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Unmarshal(frame)
		if err != nil {
			log.Printf("hub: %s: bad frame: %v", c.session.docID, err)
			continue
		}
		select {
		case c.session.inbound <- inbound{c: c, msg: msg}:
		case <-c.session.done:
			return
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for frame := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}
