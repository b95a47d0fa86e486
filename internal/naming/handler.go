package naming

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/dreamware/tuplespace/internal/wire"
)

// Handler serves a Memory registry over HTTP/JSON
type Handler struct {
	reg *Memory
	mux *http.ServeMux
}

func NewHandler(reg *Memory) *Handler {
	h := &Handler{reg: reg, mux: http.NewServeMux()}
	h.mux.HandleFunc("/bind", h.handleBind)
	h.mux.HandleFunc("/rebind", h.handleRebind)
	h.mux.HandleFunc("/unbind", h.handleUnbind)
	h.mux.HandleFunc("/lookup", h.handleLookup)
	h.mux.HandleFunc("/names", h.handleNames)
	h.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func decodeBinding(w http.ResponseWriter, r *http.Request, needAddr bool) (wire.Binding, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return wire.Binding{}, false
	}
	var b wire.Binding
	if err := wire.JSON.Decode(r, &b); err != nil {
		wire.JSON.Error(w, http.StatusBadRequest, err)
		return b, false
	}
	if b.Name == "" || (needAddr && b.Addr == "") {
		wire.JSON.Error(w, http.StatusBadRequest, errors.New("missing name/addr"))
		return b, false
	}
	return b, true
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBinding(w, r, true)
	if !ok {
		return
	}
	if err := h.reg.Bind(r.Context(), b.Name, b.Addr); err != nil {
		wire.JSON.Error(w, http.StatusConflict, fmt.Errorf("%s: %w", b.Name, err))
		return
	}
	log.Printf("registry: bound %s -> %s", b.Name, b.Addr)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRebind(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBinding(w, r, true)
	if !ok {
		return
	}
	_ = h.reg.Rebind(r.Context(), b.Name, b.Addr)
	log.Printf("registry: rebound %s -> %s", b.Name, b.Addr)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnbind(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBinding(w, r, false)
	if !ok {
		return
	}
	if err := h.reg.Unbind(r.Context(), b.Name); err != nil {
		wire.JSON.Error(w, http.StatusNotFound, fmt.Errorf("%s: %w", b.Name, err))
		return
	}
	log.Printf("registry: unbound %s", b.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		wire.JSON.Error(w, http.StatusBadRequest, errors.New("name required"))
		return
	}
	addr, err := h.reg.Lookup(r.Context(), name)
	if err != nil {
		wire.JSON.Error(w, http.StatusNotFound, fmt.Errorf("%s: %w", name, err))
		return
	}
	wire.JSON.Respond(w, http.StatusOK, wire.Binding{Name: name, Addr: addr})
}

func (h *Handler) handleNames(w http.ResponseWriter, r *http.Request) {
	wire.JSON.Respond(w, http.StatusOK, wire.NamesResponse{Bindings: h.reg.Bindings()})
}
