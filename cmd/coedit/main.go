// Command coedit serves collaborative editing sessions over websockets.
//
// Each document gets its own serialized session at /ws/{doc}. With -store,
// snapshots and the operation log are persisted and sessions survive
// restarts.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/coedit-labs/coedit/hub"
	"github.com/coedit-labs/coedit/store"
)

var (
	port      = flag.Int("port", 8009, "port to run server")
	storePath = flag.String("store", "", "path to the store file; empty keeps sessions in memory only")
)

type server struct {
	sync.Mutex

	st       *store.Store
	sessions map[string]*hub.Session
}

func (s *server) session(docID string) (*hub.Session, error) {
	s.Lock()
	defer s.Unlock()
	if session, ok := s.sessions[docID]; ok {
		return session, nil
	}
	session, err := hub.NewSession(docID, "", s.st)
	if err != nil {
		return nil, err
	}
	go session.Run()
	s.sessions[docID] = session
	return session, nil
}

func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["doc"]
	session, err := s.session(docID)
	if err != nil {
		log.Printf("opening session %s: %v", docID, err)
		http.Error(w, "can't open document", http.StatusInternalServerError)
		return
	}
	session.ServeWS(w, r)
}

func main() {
	flag.Parse()

	s := &server{sessions: make(map[string]*hub.Session)}
	if *storePath != "" {
		st, err := store.Open(*storePath)
		if err != nil {
			log.Fatalf("Error opening store: %v", err)
		}
		defer st.Close()
		s.st = st
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{doc}", s.serveWS)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Serving on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Error serving: %v", err)
	}
}
