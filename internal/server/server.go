package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/dreamware/tuplespace/internal/replication"
	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
	"github.com/dreamware/tuplespace/internal/wire"
)

// Server is the HTTP surface of one space server
type Server struct {
	coord     *replication.Coordinator
	statePath string
	mux       *http.ServeMux
}

// New routes client, replica and operator endpoints to coord. statePath is
// used by save and load requests that name no file.
func New(coord *replication.Coordinator, statePath string) *Server {
	s := &Server{coord: coord, statePath: statePath, mux: http.NewServeMux()}

	s.mux.HandleFunc("/tuples/write", s.primary(s.handleWrite))
	s.mux.HandleFunc("/tuples/try-take", s.primary(s.handleTryTake))
	s.mux.HandleFunc("/tuples/try-read", s.primary(s.handleTryRead))
	s.mux.HandleFunc("/tuples/take-all", s.primary(s.handleTakeAll))
	s.mux.HandleFunc("/tuples/read-all", s.primary(s.handleReadAll))
	s.mux.HandleFunc("/tuples/event", s.handleEvent)
	s.mux.HandleFunc("/tuples/release", s.handleRelease)
	s.mux.HandleFunc("/admin/save", s.primary(s.handleSave))
	s.mux.HandleFunc("/admin/load", s.primary(s.handleLoad))
	s.mux.HandleFunc("/admin/debug", s.primary(s.handleDebug))
	s.mux.Handle("/replica/", coord.Handler())

	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		wire.JSON.Respond(w, http.StatusOK, s.coord.Info())
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// statusOf maps an operation error onto the HTTP status clients act on
func statusOf(err error) int {
	switch {
	case errors.Is(err, tuple.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, replication.ErrNotPrimary):
		return http.StatusServiceUnavailable
	case errors.Is(err, replication.ErrUnknownHandle):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error) {
	wire.Msgpack.Error(w, statusOf(err), err)
}

type engineHandler func(w http.ResponseWriter, r *http.Request, e *space.Engine)

// primary admits POSTs to the engine of a primary and answers 503 elsewhere
func (s *Server) primary(h engineHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		e, err := s.coord.Engine()
		if err != nil {
			fail(w, err)
			return
		}
		h(w, r, e)
	}
}

func decodeTuple(w http.ResponseWriter, r *http.Request) (tuple.Tuple, bool) {
	var req wire.TupleRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		fail(w, err)
		return nil, false
	}
	return req.Tuple, true
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	t, ok := decodeTuple(w, r)
	if !ok {
		return
	}
	if err := e.Write(t); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTryTake(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	s.tryOne(w, r, e.TryTake)
}

func (s *Server) handleTryRead(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	s.tryOne(w, r, e.TryRead)
}

func (s *Server) tryOne(w http.ResponseWriter, r *http.Request, op func(tuple.Tuple) (tuple.Tuple, bool, error)) {
	tmpl, ok := decodeTuple(w, r)
	if !ok {
		return
	}
	t, found, err := op(tmpl)
	if err != nil {
		fail(w, err)
		return
	}
	wire.Msgpack.Respond(w, http.StatusOK, wire.TupleResponse{Tuple: t, Found: found})
}

func (s *Server) handleTakeAll(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	s.all(w, r, e.TakeAll)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	s.all(w, r, e.ReadAll)
}

func (s *Server) all(w http.ResponseWriter, r *http.Request, op func(tuple.Tuple) ([]tuple.Tuple, error)) {
	tmpl, ok := decodeTuple(w, r)
	if !ok {
		return
	}
	ts, err := op(tmpl)
	if err != nil {
		fail(w, err)
		return
	}
	wire.Msgpack.Respond(w, http.StatusOK, wire.TuplesResponse{Tuples: ts})
}

// handleEvent is the long-poll behind blocking take/read and remote event
// registration. It answers once the registration has fired.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req wire.EventRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	t, err := s.coord.Event(r.Context(), req.ID, req.Mode, req.Timing, req.Template)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// caller went away; the registration stays pending
			return
		}
		fail(w, err)
		return
	}
	wire.Msgpack.Respond(w, http.StatusOK, wire.EventResponse{Tuple: t})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req wire.ReleaseRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := s.coord.Release(req.ID); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) path(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req wire.PathRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		fail(w, err)
		return "", false
	}
	if req.Path == "" {
		req.Path = s.statePath
	}
	if req.Path == "" {
		fail(w, fmt.Errorf("%w: no path given and no state file configured", tuple.ErrMalformed))
		return "", false
	}
	return req.Path, true
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	path, ok := s.path(w, r)
	if !ok {
		return
	}
	if err := e.Save(path); err != nil {
		log.Printf("server: %v", err)
		wire.Msgpack.Error(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("server: saved space to %s", path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	path, ok := s.path(w, r)
	if !ok {
		return
	}
	if err := e.Load(path); err != nil {
		log.Printf("server: %v", err)
		wire.Msgpack.Error(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("server: loaded space from %s", path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request, e *space.Engine) {
	var req wire.DebugRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	wire.Msgpack.Respond(w, http.StatusOK, wire.DebugResponse{Dump: e.Debug(req.Label)})
}
