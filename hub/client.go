package hub

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coedit-labs/coedit/ot"
	"github.com/coedit-labs/coedit/protocol"
)

// Transport runs one replica's synchronization state machine over a
// websocket, reconnecting with exponential backoff when the connection
// fails. Buffered local edits survive a failure and are replayed through the
// normal edit path after resynchronization.
type Transport struct {
	url  string
	site string

	mu     sync.Mutex
	client *ot.Client
	ws     *websocket.Conn
	clock  uint64
	closed bool

	// OnChange, when set before Run, is called with the new content after
	// every applied remote change or resync.
	OnChange func(content string)
}

// Dial connects to a session, synchronizes the initial snapshot, and returns
// a ready transport. The caller must start Run to process incoming frames.
func Dial(url string) (*Transport, error) {
	t := &Transport{url: url, site: uuid.NewString()}
	if err := t.connect(0); err != nil {
		return nil, err
	}
	return t, nil
}

// connect dials with backoff and performs the snapshot handshake. The caller
// must not hold t.mu.
func (t *Transport) connect(fromVersion int) error {
	var ws *websocket.Conn
	dial := func() error {
		var err error
		ws, _, err = websocket.DefaultDialer.Dial(t.url, nil)
		return err
	}
	if err := backoff.Retry(dial, backoff.NewExponentialBackOff()); err != nil {
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	frame, err := protocol.Marshal(protocol.Message{
		Type:          protocol.TypeResyncRequest,
		ResyncRequest: &protocol.ResyncRequest{FromVersion: fromVersion},
	})
	if err != nil {
		ws.Close()
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		ws.Close()
		return fmt.Errorf("requesting snapshot: %w", err)
	}
	// Frames other than the snapshot are useless before the handshake is
	// done; skip them.
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return fmt.Errorf("awaiting snapshot: %w", err)
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			continue
		}
		if msg.Type != protocol.TypeResyncResponse {
			continue
		}
		t.mu.Lock()
		t.ws = ws
		t.resync(msg.ResyncResponse)
		t.mu.Unlock()
		return nil
	}
}

// resync resets the state machine on a snapshot and replays preserved
// buffered edits. Called with t.mu held.
func (t *Transport) resync(resp *protocol.ResyncResponse) {
	var buffered ot.Ops
	if t.client == nil {
		t.client = ot.NewClient(t.site, resp.Snapshot, resp.Version)
	} else {
		buffered = t.client.Resync(resp.Snapshot, resp.Version)
	}
	if t.OnChange != nil {
		t.OnChange(t.client.Content())
	}
	if buffered.IsEmpty() {
		return
	}
	update, err := t.client.Edit(buffered)
	if err != nil {
		// The buffer no longer fits the document that came back; dropping it
		// is the only move that keeps the replica convergent.
		log.Printf("transport: discarding stale buffered edit: %v", err)
		return
	}
	if update != nil {
		t.writeUpdate(update)
	}
}

// Content returns the optimistic local content.
func (t *Transport) Content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Content()
}

// Edit applies a local compound and sends or buffers it.
func (t *Transport) Edit(ops ot.Ops) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	update, err := t.client.Edit(ops)
	if err != nil {
		return err
	}
	if update != nil {
		return t.writeUpdate(update)
	}
	return nil
}

// writeUpdate sends an update frame. Called with t.mu held. A write failure
// is not fatal: the read loop notices the broken connection and reconnects,
// and the pending compound is recovered through resync.
func (t *Transport) writeUpdate(u *ot.Update) error {
	t.clock++
	frame, err := protocol.Marshal(protocol.UpdateMessage(u, t.clock))
	if err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

// Run processes incoming frames until Close, reconnecting as needed.
func (t *Transport) Run() {
	for {
		t.mu.Lock()
		ws, closed := t.ws, t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed = t.closed
			version := t.client.Version()
			t.mu.Unlock()
			if closed {
				return
			}
			log.Printf("transport: connection lost: %v", err)
			if err := t.connect(version); err != nil {
				log.Printf("transport: reconnect failed: %v", err)
				return
			}
			continue
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			log.Printf("transport: bad frame: %v", err)
			continue
		}
		if err := t.handle(msg); err != nil {
			if errors.Is(err, ot.ErrResyncRequired) {
				t.requestResync()
				continue
			}
			log.Printf("transport: %v", err)
		}
	}
}

func (t *Transport) handle(msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch msg.Type {
	case protocol.TypeOperation:
		op := msg.Operation
		ops, err := protocol.DecodeOps(op.Ops)
		if err != nil {
			return err
		}
		return t.applyChange(ot.Change{
			Ops:     ops,
			Site:    op.SiteID,
			Version: op.Version,
			OpID:    op.OpID,
		})
	case protocol.TypeAck:
		update, err := t.client.Ack(msg.Ack.OpID, msg.Ack.NewVersion)
		if err != nil {
			return err
		}
		if update != nil {
			return t.writeUpdate(update)
		}
		return nil
	case protocol.TypeResyncResponse:
		t.resync(msg.ResyncResponse)
		return nil
	}
	return fmt.Errorf("unexpected %s frame from server", msg.Type)
}

// applyChange feeds a broadcast change into the state machine. Called with
// t.mu held.
func (t *Transport) applyChange(ch ot.Change) error {
	if err := t.client.ApplyChange(ch); err != nil {
		return err
	}
	if t.OnChange != nil {
		t.OnChange(t.client.Content())
	}
	return nil
}

func (t *Transport) requestResync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	frame, err := protocol.Marshal(protocol.Message{
		Type:          protocol.TypeResyncRequest,
		ResyncRequest: &protocol.ResyncRequest{FromVersion: t.client.Version()},
	})
	if err != nil {
		return
	}
	if err := t.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("transport: requesting resync: %v", err)
	}
}

// Close shuts the transport down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.ws != nil {
		return t.ws.Close()
	}
	return nil
}
