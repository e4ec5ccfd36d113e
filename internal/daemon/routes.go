package daemon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hnrobert/nssync/internal/lock"
)

func (d *Daemon) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status())
	})
	r.Post("/sync", d.handleSync)
	return r
}

type syncResponse struct {
	PassID    string `json:"pass_id"`
	Published bool   `json:"published"`
	Users     int    `json:"users"`
	Groups    int    `json:"groups"`
	Digest    string `json:"digest"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

func (d *Daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := d.Trigger(r.Context())
	resp := syncResponse{
		PassID:    res.PassID,
		Published: res.Published,
		Users:     res.Users,
		Groups:    res.Groups,
		Digest:    res.Digest,
		Skipped:   len(res.Skipped),
	}
	switch {
	case errors.Is(err, lock.ErrPassInProgress):
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
	case err != nil:
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
