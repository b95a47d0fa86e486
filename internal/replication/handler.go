package replication

import (
	"errors"
	"log"
	"net/http"

	"github.com/dreamware/tuplespace/internal/tuple"
	"github.com/dreamware/tuplespace/internal/wire"
)

// Handler serves the server-to-server endpoints under /replica/
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/replica/register-backup", c.handleRegisterBackup)
	mux.HandleFunc("/replica/apply", c.handleApply)
	mux.HandleFunc("/replica/keep-alive", c.handleKeepAlive)
	return mux
}

func replicaStatus(err error) int {
	switch {
	case errors.Is(err, tuple.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotPrimary):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotBackup):
		return http.StatusConflict
	case wire.IsUnavailable(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (c *Coordinator) handleRegisterBackup(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterBackupRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		wire.Msgpack.Error(w, http.StatusBadRequest, err)
		return
	}
	if err := c.RegisterBackup(r.Context(), req.ID, req.Addr); err != nil {
		log.Printf("replica[%s]: register backup %s: %v", c.cfg.Name, req.Addr, err)
		wire.Msgpack.Error(w, replicaStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleApply(w http.ResponseWriter, r *http.Request) {
	var req wire.ApplyRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		wire.Msgpack.Error(w, http.StatusBadRequest, err)
		return
	}
	if err := c.Apply(req.Mutations); err != nil {
		wire.Msgpack.Error(w, replicaStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	var req wire.KeepAliveRequest
	if err := wire.Msgpack.Decode(r, &req); err != nil {
		wire.Msgpack.Error(w, http.StatusBadRequest, err)
		return
	}
	attached, err := c.KeepAlive(req.ID)
	if err != nil {
		wire.Msgpack.Error(w, replicaStatus(err), err)
		return
	}
	wire.Msgpack.Respond(w, http.StatusOK, wire.KeepAliveResponse{Attached: attached})
}
